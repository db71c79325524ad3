package worker

import (
	"context"
	"strings"
	"testing"
)

func TestBuildArgs(t *testing.T) {
	w, err := NewCLIWorker(CLIConfig{
		Command:      "claude",
		Model:        "sonnet",
		SystemPrompt: "default system",
		WorkDir:      "/tmp",
	}, nil)
	if err != nil {
		t.Fatalf("NewCLIWorker: %v", err)
	}

	tests := []struct {
		name         string
		req          Request
		isResume     bool
		wantFlag     string
		wantSysValue string
	}{
		{
			name:         "first call uses session-id",
			req:          Request{Prompt: "build it"},
			wantFlag:     "--session-id",
			wantSysValue: "default system",
		},
		{
			name:         "subsequent call resumes",
			req:          Request{Prompt: "try again"},
			isResume:     true,
			wantFlag:     "--resume",
			wantSysValue: "default system",
		},
		{
			name:         "request system prompt overrides config",
			req:          Request{Prompt: "p", SystemPrompt: "custom"},
			wantFlag:     "--session-id",
			wantSysValue: "custom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := w.buildArgs(tt.req, tt.isResume)
			joined := strings.Join(args, " ")

			if args[0] != "-p" || args[1] != tt.req.Prompt {
				t.Errorf("prompt not first: %v", args)
			}
			if !strings.Contains(joined, tt.wantFlag+" "+w.SessionID()) {
				t.Errorf("missing %s %s in %v", tt.wantFlag, w.SessionID(), args)
			}
			if !strings.Contains(joined, "--model sonnet") {
				t.Errorf("missing model flag in %v", args)
			}
			if !strings.Contains(joined, "--system-prompt "+tt.wantSysValue) {
				t.Errorf("missing system prompt %q in %v", tt.wantSysValue, args)
			}
		})
	}
}

func TestNewCLIWorkerRequiresCommand(t *testing.T) {
	if _, err := NewCLIWorker(CLIConfig{}, nil); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestParseCLIResponse(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantErr     bool
		wantSuccess bool
		wantSummary string
		wantInput   int
		wantOutput  int
	}{
		{
			name: "successful response",
			payload: `{
				"session_id": "abc",
				"is_error": false,
				"result": {"content": [{"type": "text", "text": "Did the "}, {"type": "text", "text": "thing."}]},
				"usage": {"input_tokens": 120, "output_tokens": 45},
				"total_cost_usd": 0.0021
			}`,
			wantSuccess: true,
			wantSummary: "Did the thing.",
			wantInput:   120,
			wantOutput:  45,
		},
		{
			name:        "error response",
			payload:     `{"is_error": true, "result": {"content": [{"type": "text", "text": "could not comply"}]}}`,
			wantSuccess: false,
			wantSummary: "could not comply",
		},
		{
			name:    "malformed JSON",
			payload: `{"result": `,
			wantErr: true,
		},
		{
			name:        "empty content",
			payload:     `{"is_error": false, "result": {"content": []}}`,
			wantSuccess: true,
			wantSummary: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := parseCLIResponse([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", res.Success, tt.wantSuccess)
			}
			if res.Summary != tt.wantSummary {
				t.Errorf("Summary = %q, want %q", res.Summary, tt.wantSummary)
			}
			if res.InputTokens != tt.wantInput || res.OutputTokens != tt.wantOutput {
				t.Errorf("tokens = %d/%d, want %d/%d", res.InputTokens, res.OutputTokens, tt.wantInput, tt.wantOutput)
			}
		})
	}
}

func TestProcessManagerTrackUntrack(t *testing.T) {
	pm := NewProcessManager()
	if pm.Count() != 0 {
		t.Fatalf("new manager tracks %d processes", pm.Count())
	}

	// Nil process is ignored.
	pm.Track(newCommand(context.Background(), "true"))
	if pm.Count() != 0 {
		t.Errorf("unstarted command tracked: %d", pm.Count())
	}
}
