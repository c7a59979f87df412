// Package config loads host configuration from MODHOST_* environment
// variables with defaults suitable for a single-node SQLite deployment.
//
// Server:
//
//	MODHOST_HOST="0.0.0.0"
//	MODHOST_PORT="8080"
//	MODHOST_HEALTH_PORT="9090"
//	MODHOST_CORS_ORIGINS="https://console.example.com"
//
// Database:
//
//	MODHOST_DB_DRIVER="postgres"   # postgres or sqlite3
//	MODHOST_DB_DSN="postgres://modhost@localhost/modhost?sslmode=disable"
//	MODHOST_DB_MAX_CONNS="20"
//
// Modules:
//
//	MODHOST_MODULES_ROOT="/srv/modules"
//	MODHOST_MODULES_AUTO_REGISTER="true"
//	MODHOST_MODULES_WATCH="true"
//	MODHOST_MODULES_TRANSITION_TIMEOUT="5m"
//
// Redis (optional; enables the distributed lock and rate limiter):
//
//	MODHOST_REDIS_URL="redis://localhost:6379/0"
//
// Capabilities:
//
//	MODHOST_FILES_BACKEND="s3"     # none, local or s3
//	MODHOST_S3_BUCKET="modhost-files"
//	MODHOST_NOTIFY_WEBHOOK_URL="https://hooks.example.com/modhost"
//
// Observability:
//
//	MODHOST_LOG_LEVEL="info"
//	MODHOST_LOG_FORMAT="json"      # json or text
//	MODHOST_OTEL_ENABLED="true"
//	MODHOST_OTEL_ENDPOINT="otel-collector:4317"
package config
