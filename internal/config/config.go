package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration shared by every function binary.
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Document database (single DynamoDB table, or "memory" for local runs)
	DocumentStore        string
	DocumentsTable       string
	CollectionGroupIndex string

	// Generated PDF archive
	DocumentsBucket string
	PresignTTL      time.Duration
	S3UsePathStyle  bool

	// Headless-browser rendering service
	BrowserServiceURL string
	BrowserTimeout    time.Duration

	// Transactional email
	EmailProvider         string
	EmailAPIURL           string
	EmailAPIKey           string
	EmailFromEmail        string
	EmailFromName         string
	EmailReplyTo          string
	SendGridAPIKey        string
	InviteTemplateID      string
	AppointmentTemplateID string
	InviteTTL             time.Duration
	PublicBaseURL         string

	CORSAllowedOrigins []string

	// Cognito (dev server JWT validation)
	CognitoRegion     string
	CognitoUserPoolID string
	CognitoClientID   string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		DocumentStore:        strings.ToLower(getEnv("DOCUMENT_STORE", "dynamodb")),
		DocumentsTable:       getEnv("DOCUMENTS_TABLE", "clinic_documents"),
		CollectionGroupIndex: getEnv("COLLECTION_GROUP_INDEX", "cg-email-index"),

		DocumentsBucket: getEnv("DOCUMENTS_BUCKET", ""),
		PresignTTL:      getEnvAsDuration("DOCUMENTS_PRESIGN_TTL", 15*time.Minute),
		S3UsePathStyle:  getEnvAsBool("S3_USE_PATH_STYLE", false),

		BrowserServiceURL: strings.TrimRight(getEnv("BROWSER_SERVICE_URL", "http://localhost:3000"), "/"),
		BrowserTimeout:    getEnvAsDuration("BROWSER_TIMEOUT", 60*time.Second),

		EmailProvider:         strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		EmailAPIURL:           getEnv("EMAIL_API_URL", "https://api.brevo.com/v3/smtp/email"),
		EmailAPIKey:           getEnv("EMAIL_API_KEY", ""),
		EmailFromEmail:        getEnv("EMAIL_FROM_EMAIL", ""),
		EmailFromName:         getEnv("EMAIL_FROM_NAME", "Clinic Scheduling"),
		EmailReplyTo:          getEnv("EMAIL_REPLY_TO", ""),
		SendGridAPIKey:        getEnv("SENDGRID_API_KEY", ""),
		InviteTemplateID:      getEnv("INVITE_TEMPLATE_ID", ""),
		AppointmentTemplateID: getEnv("APPOINTMENT_TEMPLATE_ID", ""),
		InviteTTL:             getEnvAsDuration("INVITE_TTL", 7*24*time.Hour),
		PublicBaseURL:         strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),

		CognitoRegion:     getEnv("COGNITO_REGION", getEnv("AWS_REGION", "us-east-1")),
		CognitoUserPoolID: getEnv("COGNITO_USER_POOL_ID", ""),
		CognitoClientID:   getEnv("COGNITO_CLIENT_ID", ""),
	}
}

// AuditEnabled reports whether the Postgres audit trail is configured.
func (c *Config) AuditEnabled() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
