package cmd

import (
	"testing"
)

func TestParseCommaSeparatedList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single value",
			input:    "tasks:read",
			expected: []string{"tasks:read"},
		},
		{
			name:     "multiple values",
			input:    "tasks:read,tasks:write",
			expected: []string{"tasks:read", "tasks:write"},
		},
		{
			name:     "values with spaces around comma",
			input:    "tasks:read, tasks:write",
			expected: []string{"tasks:read", "tasks:write"},
		},
		{
			name:     "values with leading and trailing spaces",
			input:    "  tasks:read  ,  tasks:write  ",
			expected: []string{"tasks:read", "tasks:write"},
		},
		{
			name:     "trailing comma",
			input:    "tasks:read,tasks:write,",
			expected: []string{"tasks:read", "tasks:write"},
		},
		{
			name:     "leading comma",
			input:    ",tasks:read,tasks:write",
			expected: []string{"tasks:read", "tasks:write"},
		},
		{
			name:     "multiple consecutive commas",
			input:    "tasks:read,,tasks:write",
			expected: []string{"tasks:read", "tasks:write"},
		},
		{
			name:     "only commas and spaces",
			input:    ",  , , ",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseCommaSeparatedList(tt.input)

			if tt.expected == nil {
				if result != nil {
					t.Errorf("parseCommaSeparatedList(%q) = %v, want nil", tt.input, result)
				}
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("parseCommaSeparatedList(%q) = %v (len %d), want %v (len %d)",
					tt.input, result, len(result), tt.expected, len(tt.expected))
				return
			}

			for i, v := range result {
				if v != tt.expected[i] {
					t.Errorf("parseCommaSeparatedList(%q)[%d] = %q, want %q",
						tt.input, i, v, tt.expected[i])
				}
			}
		})
	}
}

func TestResolveBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		httpAddr string
		expected string
	}{
		{
			name:     "explicit base URL wins",
			baseURL:  "https://mcp.example.com",
			httpAddr: ":8080",
			expected: "https://mcp.example.com",
		},
		{
			name:     "explicit base URL trailing slash trimmed",
			baseURL:  "https://mcp.example.com/",
			httpAddr: ":8080",
			expected: "https://mcp.example.com",
		},
		{
			name:     "bare port auto-detects localhost",
			baseURL:  "",
			httpAddr: ":8080",
			expected: "http://localhost:8080",
		},
		{
			name:     "host-qualified addr cannot auto-detect",
			baseURL:  "",
			httpAddr: "0.0.0.0:8080",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveBaseURL(tt.baseURL, tt.httpAddr); got != tt.expected {
				t.Errorf("resolveBaseURL(%q, %q) = %q, want %q",
					tt.baseURL, tt.httpAddr, got, tt.expected)
			}
		})
	}
}

func TestApplyEnvFallbacks(t *testing.T) {
	t.Setenv("TICKTICK_MCP_HTTP_ADDR", ":9999")
	t.Setenv("TICKTICK_MCP_LOG_LEVEL", "debug")

	cmd := newServeCmd()
	if err := cmd.Flags().Set("log-level", "warn"); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}

	applyEnvFallbacks(cmd)

	if got, _ := cmd.Flags().GetString("http-addr"); got != ":9999" {
		t.Errorf("http-addr = %q, want env fallback %q", got, ":9999")
	}
	// An explicitly set flag must not be overridden by the environment.
	if got, _ := cmd.Flags().GetString("log-level"); got != "warn" {
		t.Errorf("log-level = %q, want explicit value %q", got, "warn")
	}
}
