package config

import "strings"

// RedactedConfig returns a copy of the configuration safe for logging, with
// every secret-bearing field masked.
func (c Config) RedactedConfig() Config {
	out := c
	out.Postgres.Password = redact(c.Postgres.Password)
	out.Postgres.DSN = redactDSN(c.Postgres.DSN)
	out.Redis.Password = redact(c.Redis.Password)
	out.S3.AccessKey = redact(c.S3.AccessKey)
	out.S3.SecretKey = redact(c.S3.SecretKey)
	out.Helius.APIKey = redact(c.Helius.APIKey)
	out.Helius.KeyPassword = redact(c.Helius.KeyPassword)
	out.Server.APIKey = redact(c.Server.APIKey)
	out.Notify.TelegramToken = redact(c.Notify.TelegramToken)
	out.Notify.DiscordWebhookURL = redact(c.Notify.DiscordWebhookURL)
	return out
}

// redact keeps the first two characters of short-ish secrets for operator
// sanity checks and masks the rest.
func redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", 6)
}

// redactDSN masks the password component of a keyword or URL style DSN
// without attempting a full parse.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	return "****"
}
