package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

var bashStyleRegex = regexp.MustCompile(`\$\{?([A-Z_][A-Z0-9_]*)\}?`)

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	result := &ValidationResult{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Message: fmt.Sprintf("invalid JSON: %v", err),
		})
		return result, nil
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "version",
			Message: fmt.Sprintf("version field is required. Hint: Add \"version\": %q", ConfigVersion),
		})
	} else if version != ConfigVersion {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "version",
			Message: fmt.Sprintf("unsupported version '%s' - use '%s'", version, ConfigVersion),
		})
	}

	if _, ok := rawConfig["apexDomain"]; !ok {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "apexDomain",
			Message: "apexDomain is required. Example: \"flexrz.com\"",
		})
	}

	if env, ok := rawConfig["environment"].(string); ok {
		if env != string(EnvironmentProduction) && env != string(EnvironmentDevelopment) {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "environment",
				Message: fmt.Sprintf("environment must be 'production' or 'development', got '%s'", env),
			})
		}
	}

	validateGoogleStructure(rawConfig, result)
	validateSecretStructure(rawConfig, result)
	validateResolverStructure(rawConfig, result)

	return result, nil
}

func validateGoogleStructure(rawConfig map[string]any, result *ValidationResult) {
	google, ok := rawConfig["google"].(map[string]any)
	if !ok {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "google",
			Message: "google field is required and must be an object",
		})
		return
	}
	for _, field := range []string{"clientId", "clientSecret", "redirectUri"} {
		if _, ok := google[field]; !ok {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "google." + field,
				Message: field + " is required",
			})
		}
	}
}

func validateSecretStructure(rawConfig map[string]any, result *ValidationResult) {
	if _, ok := lookup(rawConfig, []string{"session", "secret"}); !ok {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "session.secret",
			Message: "session.secret is required. Hint: {\"$env\": \"SESSION_SECRET\"}",
		})
	}
	if _, ok := lookup(rawConfig, []string{"handoff", "secret"}); !ok {
		result.Warnings = append(result.Warnings, ValidationError{
			Path:    "handoff.secret",
			Message: "handoff.secret is not set, tenant custom domains will not receive handoff assertions",
		})
	}

	for _, path := range secretFields {
		value, ok := lookup(rawConfig, path)
		if !ok {
			continue
		}
		name := strings.Join(path, ".")
		if err := validateEnvVarReference(value, path[len(path)-1], name); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	}
}

func validateResolverStructure(rawConfig map[string]any, result *ValidationResult) {
	resolver, ok := rawConfig["tenantResolver"].(map[string]any)
	if !ok {
		return
	}
	kind, _ := resolver["kind"].(string)
	switch ResolverKind(kind) {
	case "", ResolverKindStatic:
	case ResolverKindHTTP:
		if _, ok := resolver["backendUrl"]; !ok {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "tenantResolver.backendUrl",
				Message: "backendUrl is required when kind is 'http'",
			})
		}
	case ResolverKindFirestore:
		if _, ok := resolver["gcpProject"]; !ok {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "tenantResolver.gcpProject",
				Message: "gcpProject is required when kind is 'firestore'",
			})
		}
	default:
		result.Errors = append(result.Errors, ValidationError{
			Path:    "tenantResolver.kind",
			Message: fmt.Sprintf("invalid kind '%s' - use 'http', 'firestore' or 'static'", kind),
		})
	}

	if timeout, ok := resolver["timeout"].(string); ok && strings.HasSuffix(timeout, "s") && !strings.HasSuffix(timeout, "ms") {
		result.Warnings = append(result.Warnings, ValidationError{
			Path:    "tenantResolver.timeout",
			Message: fmt.Sprintf("timeout '%s' is in seconds; resolver lookups sit on the redirect path and should stay sub-second", timeout),
		})
	}
}

// validateEnvVarReference checks a secret is written as {"$env": "VAR"}
func validateEnvVarReference(value any, fieldName, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		if matches := bashStyleRegex.FindStringSubmatch(v); len(matches) > 1 {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", v, matches[1]),
			}
		}
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference {\"$env\": \"YOUR_ENV_VAR\"} instead of plain text", fieldName),
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("%s must use {\"$env\": \"YOUR_ENV_VAR\"} format", fieldName),
			}
		}
		return nil
	default:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}, not %T", fieldName, value),
		}
	}
}

// checkBashStyleSyntax warns about $VAR / ${VAR} strings, which are never expanded
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.Warnings = append(result.Warnings, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", match, varName),
			})
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
