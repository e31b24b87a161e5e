// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
	GetDatabaseMaxConns() int
	GetDatabaseAppName() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// EmailConfig provides settings for email sending.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetEmailProvider() string
	GetBrevoAPIKey() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetEmailReplyTo() string
}

// SMTPConfig provides settings for the SMTP email transport.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
}

// TwilioConfig provides settings for SMS and voice delivery.
type TwilioConfig interface {
	GetTwilioAccountSID() string
	GetTwilioAuthToken() string
	GetTwilioFromNumber() string
	GetTwilioStatusCallbackURL() string
	GetTwilioDefaultRegion() string
	IsTwilioEnabled() bool
}

// ResendConfig provides settings for fetching inbound email content.
type ResendConfig interface {
	GetResendAPIKey() string
	IsResendEnabled() bool
}

// AIConfig provides settings for the follow-up decision models.
type AIConfig interface {
	GetMoonshotAPIKey() string
	GetMoonshotModel() string
	GetOpenAIAPIKey() string
	GetOpenAIModel() string
	GetOpenAIBaseURL() string
}

// RedisConfig provides settings for the Redis connection used by locks and queues.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	IsRedisEnabled() bool
}

// SchedulerConfig provides the follow-up policy and queue settings.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetFollowUpPolicy() FollowUpPolicy
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketWebhookPayloads() string
	IsMinIOEnabled() bool
}

// WebhookConfig provides settings for the inbound channel webhook.
type WebhookConfig interface {
	GetWebhookRateLimit() float64
	GetWebhookRateBurst() int
}

// EscalationNotifyConfig provides settings for escalation alerts.
type EscalationNotifyConfig interface {
	GetEscalationNotifyEmail() string
	GetAppBaseURL() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                       string
	HTTPAddr                  string
	DatabaseURL               string
	DatabaseMaxConns          int
	DatabaseAppName           string
	MigrationsDir             string
	JWTAccessSecret           string
	CORSAllowAll              bool
	CORSOrigins               []string
	CORSAllowCreds            bool
	AppBaseURL                string
	EmailEnabled              bool
	EmailProvider             string
	BrevoAPIKey               string
	EmailFromName             string
	EmailFromAddress          string
	EmailReplyTo              string
	SMTPHost                  string
	SMTPPort                  int
	SMTPUsername              string
	SMTPPassword              string
	TwilioAccountSID          string
	TwilioAuthToken           string
	TwilioFromNumber          string
	TwilioStatusCallbackURL   string
	TwilioDefaultRegion       string
	ResendAPIKey              string
	MoonshotAPIKey            string
	MoonshotModel             string
	OpenAIAPIKey              string
	OpenAIModel               string
	OpenAIBaseURL             string
	RedisURL                  string
	RedisTLSInsecure          bool
	AsynqQueueName            string
	AsynqConcurrency          int
	MinIOEndpoint             string
	MinIOAccessKey            string
	MinIOSecretKey            string
	MinIOUseSSL               bool
	MinioBucketWebhookPayload string
	WebhookRateLimit          float64
	WebhookRateBurst          int
	EscalationNotifyEmail     string
	Policy                    FollowUpPolicy
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string     { return c.DatabaseURL }
func (c *Config) GetDatabaseMaxConns() int   { return c.DatabaseMaxConns }
func (c *Config) GetDatabaseAppName() string { return c.DatabaseAppName }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetEmailProvider() string    { return c.EmailProvider }
func (c *Config) GetBrevoAPIKey() string      { return c.BrevoAPIKey }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) GetEmailReplyTo() string     { return c.EmailReplyTo }

// SMTPConfig implementation
func (c *Config) GetSMTPHost() string     { return c.SMTPHost }
func (c *Config) GetSMTPPort() int        { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string { return c.SMTPPassword }

// TwilioConfig implementation
func (c *Config) GetTwilioAccountSID() string        { return c.TwilioAccountSID }
func (c *Config) GetTwilioAuthToken() string         { return c.TwilioAuthToken }
func (c *Config) GetTwilioFromNumber() string        { return c.TwilioFromNumber }
func (c *Config) GetTwilioStatusCallbackURL() string { return c.TwilioStatusCallbackURL }
func (c *Config) GetTwilioDefaultRegion() string     { return c.TwilioDefaultRegion }
func (c *Config) IsTwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

// ResendConfig implementation
func (c *Config) GetResendAPIKey() string { return c.ResendAPIKey }
func (c *Config) IsResendEnabled() bool   { return c.ResendAPIKey != "" }

// AIConfig implementation
func (c *Config) GetMoonshotAPIKey() string { return c.MoonshotAPIKey }
func (c *Config) GetMoonshotModel() string  { return c.MoonshotModel }
func (c *Config) GetOpenAIAPIKey() string   { return c.OpenAIAPIKey }
func (c *Config) GetOpenAIModel() string    { return c.OpenAIModel }
func (c *Config) GetOpenAIBaseURL() string  { return c.OpenAIBaseURL }

// RedisConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) IsRedisEnabled() bool      { return c.RedisURL != "" }

// SchedulerConfig implementation
func (c *Config) GetAsynqQueueName() string         { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int          { return c.AsynqConcurrency }
func (c *Config) GetFollowUpPolicy() FollowUpPolicy { return c.Policy }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string  { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool      { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketWebhookPayloads() string {
	return c.MinioBucketWebhookPayload
}
func (c *Config) IsMinIOEnabled() bool { return c.MinIOEndpoint != "" }

// WebhookConfig implementation
func (c *Config) GetWebhookRateLimit() float64 { return c.WebhookRateLimit }
func (c *Config) GetWebhookRateBurst() int     { return c.WebhookRateBurst }

// EscalationNotifyConfig implementation
func (c *Config) GetEscalationNotifyEmail() string { return c.EscalationNotifyEmail }
func (c *Config) GetAppBaseURL() string            { return c.AppBaseURL }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	emailProvider := strings.ToLower(getEnv("EMAIL_PROVIDER", "brevo"))
	brevoAPIKey := getEnv("BREVO_API_KEY", "")
	smtpHost := getEnv("SMTP_HOST", "")
	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true")
	emailConfigured := (emailProvider == "brevo" && brevoAPIKey != "") || (emailProvider == "smtp" && smtpHost != "")

	policy, err := loadPolicy(getEnv("FOLLOWUP_POLICY_FILE", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:                       getEnv("APP_ENV", "development"),
		HTTPAddr:                  getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:               getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:          int(mustInt64(getEnv("DB_MAX_CONNS", "10"))),
		DatabaseAppName:           getEnv("DB_APPLICATION_NAME", "procurement-followup"),
		MigrationsDir:             getEnv("MIGRATIONS_DIR", "migrations"),
		JWTAccessSecret:           getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:              corsAllowAll,
		CORSOrigins:               corsOrigins,
		CORSAllowCreds:            strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		AppBaseURL:                getEnv("APP_BASE_URL", "http://localhost:4200"),
		EmailEnabled:              emailEnabled && emailConfigured,
		EmailProvider:             emailProvider,
		BrevoAPIKey:               brevoAPIKey,
		EmailFromName:             getEnv("EMAIL_FROM_NAME", "Procurement"),
		EmailFromAddress:          getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailReplyTo:              getEnv("EMAIL_REPLY_TO", ""),
		SMTPHost:                  smtpHost,
		SMTPPort:                  int(mustInt64(getEnv("SMTP_PORT", "587"))),
		SMTPUsername:              getEnv("SMTP_USERNAME", ""),
		SMTPPassword:              getEnv("SMTP_PASSWORD", ""),
		TwilioAccountSID:          getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:           getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:          getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioStatusCallbackURL:   getEnv("TWILIO_STATUS_CALLBACK_URL", ""),
		TwilioDefaultRegion:       getEnv("TWILIO_DEFAULT_REGION", "US"),
		ResendAPIKey:              getEnv("RESEND_API_KEY", ""),
		MoonshotAPIKey:            getEnv("MOONSHOT_API_KEY", ""),
		MoonshotModel:             getEnv("MOONSHOT_MODEL", "kimi-k2-turbo-preview"),
		OpenAIAPIKey:              getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:               getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:             getEnv("OPENAI_BASE_URL", ""),
		RedisURL:                  getEnv("REDIS_URL", ""),
		RedisTLSInsecure:          strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:            getEnv("ASYNQ_QUEUE", "followups"),
		AsynqConcurrency:          int(mustInt64(getEnv("ASYNQ_CONCURRENCY", "1"))),
		MinIOEndpoint:             getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:            getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:            getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:               strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketWebhookPayload: getEnv("MINIO_BUCKET_WEBHOOK_PAYLOADS", "webhook-payloads"),
		WebhookRateLimit:          mustFloat(getEnv("WEBHOOK_RATE_LIMIT", "20")),
		WebhookRateBurst:          int(mustInt64(getEnv("WEBHOOK_RATE_BURST", "60"))),
		EscalationNotifyEmail:     getEnv("ESCALATION_NOTIFY_EMAIL", ""),
		Policy:                    applyPolicyEnv(policy),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.EmailEnabled && cfg.EmailFromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
