package auth

import (
	"time"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/env"
)

// AdminSecretKey for admin API endpoints (/admin/*)
var AdminSecretKey string

// JWTSecretKey signs user bearer tokens. cmd/main refuses to start without it.
var JWTSecretKey string

// TokenTTL is the lifetime of issued user tokens. Zero means no expiry.
var TokenTTL time.Duration

// Locals keys set by the middlewares.
const (
	LocalUserID  = "user_id"
	LocalIsAdmin = "is_admin"
)

func init() {
	AdminSecretKey, _ = env.GetEnvString("ADMIN_SECRET_KEY")
	JWTSecretKey, _ = env.GetEnvString("JWT_SECRET_KEY")
	TokenTTL = env.GetEnvDurationOrDefault("JWT_TTL", 30*24*time.Hour)
}
