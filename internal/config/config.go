// Package config provides configuration loading from environment variables and
// the system-defaults file.
package config

import (
	"strings"
	"time"
)

// ServiceConfig holds configuration for the jobplane server.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	AgentAPIKey       string        // separate bearer token for agent endpoints ("" = share APIKey)
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
	DatabasePath      string        // SQLite database file
	DefaultsPath      string        // System defaults YAML file ("" = built-in defaults)
	WebhookURLs       []string      // State-change notification destinations
	WebhookSigningKey string        // HMAC key for signed notifications
	LaunchAgents      bool          // Launch a docker agent per resolved job
	AgentImage        string        // Agent image used by the docker launcher
	ServerURL         string        // URL agents use to reach this server
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		AgentAPIKey:       GetSecretFile(GetEnv("AGENT_API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		DatabasePath:      GetEnv("DATABASE_PATH", "jobplane.db"),
		DefaultsPath:      GetEnv("DEFAULTS_FILE", ""),
		WebhookURLs:       splitList(GetEnv("WEBHOOK_URLS", "")),
		WebhookSigningKey: GetSecretFile(GetEnv("WEBHOOK_SIGNING_KEY_FILE", "")),
		LaunchAgents:      GetEnv("LAUNCH_AGENTS", "false") == "true",
		AgentImage:        GetEnv("AGENT_IMAGE", "jobplane-agent:latest"),
		ServerURL:         GetEnv("SERVER_URL", "http://localhost:8080"),
	}
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
