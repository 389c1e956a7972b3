package config

import (
	"os"
	"strings"
)

// SupplierEndpoint is the connection configuration for one OpenAI-compatible
// supplier.
type SupplierEndpoint struct {
	BaseURL string
	APIKey  string
}

type Config struct {
	Port        string
	Environment string
	CORSOrigins string
	TablePrefix string
	DatabaseURL string
	Language    string
	LogDir      string
	// Backend configuration
	OllamaBaseURL   string
	Suppliers       map[string]SupplierEndpoint
	DefaultSupplier string
	DefaultModel    string
	DefaultParams   string
	// Web search
	TavilyAPIKey string
	// Debug flags
	Debug bool
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),
		TablePrefix: getTablePrefix(env),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Language:    getEnv("LANGUAGE", "en"),
		LogDir:      getEnv("LOG_DIR", ""),
		// Backend configuration
		OllamaBaseURL:   getEnv("OLLAMA_BASE_URL", "http://127.0.0.1:11434"),
		Suppliers:       loadSuppliers(),
		DefaultSupplier: getEnv("DEFAULT_SUPPLIER", "ollama"),
		DefaultModel:    getEnv("DEFAULT_MODEL", "llama3.2"),
		DefaultParams:   getEnv("DEFAULT_MODEL_PARAMS", "3b"),
		TavilyAPIKey:    getEnv("TAVILY_API_KEY", ""),
		// Debug defaults to true outside production
		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// loadSuppliers reads OpenAI-compatible supplier endpoints from SUPPLIERS,
// a comma-separated list of names; each name resolves <NAME>_BASE_URL and
// <NAME>_API_KEY.
func loadSuppliers() map[string]SupplierEndpoint {
	suppliers := make(map[string]SupplierEndpoint)
	names := getEnv("SUPPLIERS", "")
	if names == "" {
		return suppliers
	}
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		upper := strings.ToUpper(name)
		suppliers[name] = SupplierEndpoint{
			BaseURL: getEnv(upper+"_BASE_URL", ""),
			APIKey:  getEnv(upper+"_API_KEY", ""),
		}
	}
	return suppliers
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true"
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
