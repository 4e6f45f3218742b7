package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFile(t *testing.T) {
	tests := []struct {
		name          string
		config        string
		wantErrors    []string
		wantWarnings  []string
		wantErrCount  int
		wantWarnCount int
	}{
		{
			name: "valid config",
			config: `{
				"version": "v1",
				"apexDomain": "flexrz.com",
				"google": {
					"clientId": {"$env": "GOOGLE_CLIENT_ID"},
					"clientSecret": {"$env": "GOOGLE_CLIENT_SECRET"},
					"redirectUri": "https://auth.flexrz.com/api/auth/callback/google"
				},
				"session": {"secret": {"$env": "SESSION_SECRET"}},
				"handoff": {"secret": {"$env": "HANDOFF_SECRET"}},
				"tenantResolver": {"kind": "http", "backendUrl": "https://api.flexrz.com", "timeout": "800ms"}
			}`,
		},
		{
			name: "plain text secrets",
			config: `{
				"version": "v1",
				"apexDomain": "flexrz.com",
				"google": {"clientId": "id", "clientSecret": "plain", "redirectUri": "https://x"},
				"session": {"secret": "also-plain"},
				"handoff": {"secret": {"$env": "HANDOFF_SECRET"}}
			}`,
			wantErrors:   []string{"clientSecret must use environment variable reference", "secret must use environment variable reference"},
			wantErrCount: 2,
		},
		{
			name: "bash style reference",
			config: `{
				"version": "v1",
				"apexDomain": "flexrz.com",
				"google": {"clientId": "id", "clientSecret": "$GOOGLE_SECRET", "redirectUri": "https://x"},
				"session": {"secret": {"$env": "SESSION_SECRET"}},
				"handoff": {"secret": {"$env": "HANDOFF_SECRET"}}
			}`,
			wantErrors:    []string{"found bash-style syntax"},
			wantWarnings:  []string{"found bash-style syntax '$GOOGLE_SECRET'"},
			wantErrCount:  1,
			wantWarnCount: 1,
		},
		{
			name: "missing required fields",
			config: `{
				"version": "v0"
			}`,
			wantErrors:    []string{"unsupported version", "apexDomain is required", "google field is required", "session.secret is required"},
			wantErrCount:  4,
			wantWarnCount: 1,
		},
		{
			name: "resolver problems",
			config: `{
				"version": "v1",
				"apexDomain": "flexrz.com",
				"environment": "staging",
				"google": {"clientId": "id", "clientSecret": {"$env": "S"}, "redirectUri": "https://x"},
				"session": {"secret": {"$env": "SESSION_SECRET"}},
				"handoff": {"secret": {"$env": "HANDOFF_SECRET"}},
				"tenantResolver": {"kind": "firestore", "timeout": "2s"}
			}`,
			wantErrors:    []string{"environment must be", "gcpProject is required"},
			wantWarnings:  []string{"should stay sub-second"},
			wantErrCount:  2,
			wantWarnCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ValidateFile(writeConfig(t, tt.config))
			require.NoError(t, err)

			assert.Len(t, result.Errors, tt.wantErrCount, "errors: %+v", result.Errors)
			assert.Len(t, result.Warnings, tt.wantWarnCount, "warnings: %+v", result.Warnings)
			assert.Equal(t, tt.wantErrCount == 0, result.IsValid())

			for _, want := range tt.wantErrors {
				found := false
				for _, e := range result.Errors {
					if strings.Contains(e.Message, want) {
						found = true
						break
					}
				}
				assert.True(t, found, "expected error containing %q in %+v", want, result.Errors)
			}
			for _, want := range tt.wantWarnings {
				found := false
				for _, w := range result.Warnings {
					if strings.Contains(w.Message, want) {
						found = true
						break
					}
				}
				assert.True(t, found, "expected warning containing %q in %+v", want, result.Warnings)
			}
		})
	}
}

func TestValidateFile_InvalidJSON(t *testing.T) {
	result, err := ValidateFile(writeConfig(t, `{"version": `))
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "invalid JSON")
}

func TestValidateFile_FileNotFound(t *testing.T) {
	_, err := ValidateFile("/nonexistent/config.json")
	assert.Error(t, err)
}
