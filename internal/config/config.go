package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	DSN           string
	HTTPPort      string
	MigrationsDir string

	// AdminIDs is the set of user IDs granted administrator rights. Loaded
	// once at startup and injected into the authorization layer.
	AdminIDs []string

	FilterWord string

	KafkaBrokers []string
	KafkaGroupID string
	KafkaTopic   string

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	MailFrom string

	// AdminEmail receives new-order notifications.
	AdminEmail string
}

func LoadConfig() *Config {
	brokersStr := getEnv("KAFKA_BROKERS", "localhost:9092")
	smtpPort, err := strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		smtpPort = 587
	}
	return &Config{
		DSN:           getEnv("APP_DSN", "host=localhost user=postgres password=postgres dbname=fablink sslmode=disable"),
		HTTPPort:      getEnv("APP_PORT", "9000"),
		MigrationsDir: getEnv("APP_MIGRATIONS", "migrations"),
		AdminIDs:      splitNonEmpty(getEnv("APP_ADMIN_IDS", "")),
		FilterWord:    getEnv("APP_FILTER", ""),
		KafkaBrokers:  strings.Split(brokersStr, ","),
		KafkaGroupID:  getEnv("KAFKA_GROUP_ID", "notification-group"),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "fablink.notifications"),
		SMTPHost:      getEnv("SMTP_HOST", "localhost"),
		SMTPPort:      smtpPort,
		SMTPUser:      getEnv("SMTP_USER", ""),
		SMTPPass:      getEnv("SMTP_PASS", ""),
		MailFrom:      getEnv("MAIL_FROM", "orders@fablink.example"),
		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@fablink.example"),
	}
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%s", c.HTTPPort)
}
