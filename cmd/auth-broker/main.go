package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/flexrz/auth-broker/internal"
	"github.com/flexrz/auth-broker/internal/config"
	"github.com/flexrz/auth-broker/internal/log"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"version":     config.ConfigVersion,
		"environment": "production",
		"addr":        ":8080",
		"apexDomain":  "flexrz.com",
		"session": map[string]any{
			"secret": map[string]string{"$env": "FLEXRZ_SESSION_SECRET"},
			"ttl":    "720h",
		},
		"google": map[string]any{
			"clientId":     map[string]string{"$env": "FLEXRZ_GOOGLE_CLIENT_ID"},
			"clientSecret": map[string]string{"$env": "FLEXRZ_GOOGLE_CLIENT_SECRET"},
		},
		"handoff": map[string]any{
			"secret": map[string]string{"$env": "FLEXRZ_HANDOFF_SECRET"},
			"ttl":    "120s",
		},
		"tenantResolver": map[string]any{
			"kind":       "http",
			"backendUrl": "https://api.flexrz.com",
			"timeout":    "800ms",
			"cacheTtl":   "60s",
			"cache": map[string]any{
				"kind": "memory",
			},
		},
		"log": map[string]any{
			"level":  "info",
			"format": "json",
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Printf("Validating: %s\n", path)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for _, err := range result.Errors {
			if err.Path != "" {
				fmt.Printf("  - %s: %s\n", err.Path, err.Message)
			} else {
				fmt.Printf("  - %s\n", err.Message)
			}
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(result.Warnings))
		for _, warn := range result.Warnings {
			if warn.Path != "" {
				fmt.Printf("  - %s: %s\n", warn.Path, warn.Message)
			} else {
				fmt.Printf("  - %s\n", warn.Message)
			}
		}
	}

	fmt.Println()
	switch {
	case len(result.Errors) == 0 && len(result.Warnings) == 0:
		fmt.Println("Result: PASS")
	case len(result.Errors) == 0:
		fmt.Println("Result: PASS (with warnings)")
	default:
		fmt.Println("Result: FAIL")
	}

	if len(result.Errors) > 0 {
		return fmt.Errorf("validation failed: %d error(s)", len(result.Errors))
	}
	return nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}

func main() {
	conf := flag.String("config", "", "path to config file (environment variables are used when empty)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if *validate {
		if *conf == "" {
			fmt.Fprintf(os.Stderr, "Error: -config flag is required for validation\n")
			os.Exit(1)
		}
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}
	if err := log.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.LogError("Invalid log configuration: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting auth broker", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
	})

	broker, err := internal.NewBroker(context.Background(), cfg)
	if err != nil {
		log.LogError("Failed to build auth broker: %v", err)
		os.Exit(1)
	}

	if err := broker.Run(); err != nil {
		log.LogError("Failed to start server: %v", err)
		os.Exit(1)
	}
}
