package config

// ProviderConfig defines a CLI transport: the binary and default args
// used to talk to an agent backend. Multiple agents can share one
// provider.
type ProviderConfig struct {
	Command string   `json:"command"`        // CLI binary name (e.g. "claude")
	Args    []string `json:"args,omitempty"` // Default args appended to every invocation
}

// AgentConfig defines a named team member: which provider it speaks
// through and how it behaves.
type AgentConfig struct {
	Provider string `json:"provider"`          // Key into Providers map
	Model    string `json:"model,omitempty"`   // Model override
	Role     string `json:"role,omitempty"`    // "builder", "tester", "reviewer", ...
	Persona  string `json:"persona,omitempty"` // Extra system prompt flavor
}

// RunConfig holds the scheduler knobs.
type RunConfig struct {
	MaxParallel            int64  `json:"max_parallel"`             // 0 = unlimited
	MaxAttempts            int    `json:"max_attempts"`             // total attempts per task
	QuestionTimeoutSeconds int    `json:"question_timeout_seconds"` // wait for interactive answers
	GitCommits             bool   `json:"git_commits"`              // commit after each completed task
	DatabasePath           string `json:"database_path,omitempty"`  // "" = ~/.elisa/history.db
}

// Config is the top-level configuration, merged from global and
// project files over the defaults.
type Config struct {
	Providers map[string]ProviderConfig `json:"providers"`
	Agents    map[string]AgentConfig    `json:"agents"`
	Run       RunConfig                 `json:"run"`
}
