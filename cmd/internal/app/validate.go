package app

import (
	"errors"
	"fmt"
	"strings"
)

// ValidateConfig fails fast on contradictory settings.
func ValidateConfig(cfg Config) error {
	switch strings.ToLower(cfg.NotifyBackend) {
	case "log", "":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return errors.New("config: CONVOY_NOTIFY_BACKEND=postgres requires CONVOY_DATABASE_URL")
		}
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return errors.New("config: CONVOY_NOTIFY_BACKEND=kafka requires CONVOY_KAFKA_BROKERS")
		}
		if strings.TrimSpace(cfg.KafkaNotifyTopic) == "" {
			return errors.New("config: CONVOY_NOTIFY_BACKEND=kafka requires CONVOY_KAFKA_NOTIFY_TOPIC")
		}
	default:
		return fmt.Errorf("config: unknown CONVOY_NOTIFY_BACKEND %q", cfg.NotifyBackend)
	}

	if cfg.ReadinessRequireDB && cfg.DatabaseURL == "" {
		return errors.New("config: CONVOY_READINESS_REQUIRE_DB=true but CONVOY_DATABASE_URL is empty")
	}

	switch strings.ToLower(cfg.LogFormat) {
	case "json", "pretty", "":
	default:
		return fmt.Errorf("config: unknown CONVOY_LOG_FORMAT %q", cfg.LogFormat)
	}
	return nil
}
