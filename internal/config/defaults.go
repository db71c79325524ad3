package config

// DefaultConfig returns the built-in providers, agent roster, and run
// settings.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{
			"claude": {
				Command: "claude",
			},
		},
		Agents: map[string]AgentConfig{
			"ava": {
				Provider: "claude",
				Role:     "builder",
				Persona:  "You implement features and write production code.",
			},
			"sam": {
				Provider: "claude",
				Role:     "tester",
				Persona:  "You write tests and validate functionality against the acceptance criteria.",
			},
			"kim": {
				Provider: "claude",
				Role:     "reviewer",
				Persona:  "You review work for correctness and simplicity.",
			},
		},
		Run: RunConfig{
			MaxParallel:            0, // unlimited: dispatch everything ready

			MaxAttempts:            3,
			QuestionTimeoutSeconds: 300,
			GitCommits:             true,
		},
	}
}
