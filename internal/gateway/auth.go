package gateway

import (
	"net/http"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPHeader carries the one-time code for control endpoints.
const TOTPHeader = "X-TOTP"

// TOTPGuard gates operator endpoints (stream start/stop) behind a
// time-based one-time password.
type TOTPGuard struct {
	secret string
	now    func() time.Time
}

// NewTOTPGuard returns a guard for secret, or nil when secret is empty
// (control endpoints are then open).
func NewTOTPGuard(secret string) *TOTPGuard {
	if secret == "" {
		return nil
	}
	return &TOTPGuard{secret: secret, now: time.Now}
}

// Valid reports whether code matches the current 30s window (±1 step).
func (g *TOTPGuard) Valid(code string) bool {
	if g == nil {
		return true
	}
	ok, err := totp.ValidateCustom(code, g.secret, g.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// Wrap rejects requests without a valid X-TOTP header with 401.
func (g *TOTPGuard) Wrap(next http.HandlerFunc) http.HandlerFunc {
	if g == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.Valid(r.Header.Get(TOTPHeader)) {
			writeError(w, http.StatusUnauthorized, "invalid or missing "+TOTPHeader)
			return
		}
		next(w, r)
	}
}
