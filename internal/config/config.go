package config

import (
	"os"
	"strings"
)

type Config struct {
	HTTPAddr  string
	PublicURL string

	DBDriver string
	DBDSN    string

	JWTSecret string

	BlobBasePath string // filesystem root for uploaded materials

	ImportDir        string // watched for test files; empty disables the importer
	ImportRescanCron string

	AllowAnonymousPlay bool

	AdminUser     string
	AdminPassword string // bootstrap only; empty skips admin creation

	CORSOrigins []string
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:           addr,
		PublicURL:          strings.TrimSuffix(os.Getenv("PUBLIC_URL"), "/"),
		DBDriver:           envOr("DB_DRIVER", "sqlite"),
		DBDSN:              envOr("DB_DSN", ""),
		JWTSecret:          envOr("JWT_HMAC_SECRET", "dev-secret-change-me"),
		BlobBasePath:       envOr("BLOB_DIR", "./data/assets"),
		ImportDir:          envOr("IMPORT_DIR", ""),
		ImportRescanCron:   envOr("IMPORT_RESCAN_CRON", "@every 5m"),
		AllowAnonymousPlay: envBool("ALLOW_ANONYMOUS_PLAY", true),
		AdminUser:          envOr("ADMIN_USER", "admin"),
		AdminPassword:      envOr("ADMIN_BOOTSTRAP_PASSWORD", ""),
		CORSOrigins:        csvOr("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"),
	}
}
func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
