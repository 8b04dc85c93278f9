package backend

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpired inspects the participant credential's exp claim without
// verifying the signature (the station never validates backend tokens, it
// only decides whether re-registration is worth attempting). Returns true
// for empty or unparseable tokens. Tokens without an exp claim are assumed
// live — the backend gets the final say.
func TokenExpired(token string, leeway time.Duration) bool {
	if token == "" {
		return true
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < leeway
}
