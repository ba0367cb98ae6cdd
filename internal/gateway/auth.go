package gateway

import (
	"errors"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// ErrBadCode is returned for a missing or wrong TOTP code.
var ErrBadCode = errors.New("invalid or missing TOTP code")

// TOTPGuard protects control endpoints with a time-based one-time code.
// A guard with an empty secret lets every request through.
type TOTPGuard struct {
	secret string
	now    func() time.Time
}

// NewTOTPGuard creates a guard for a base32 secret.
func NewTOTPGuard(secret string) *TOTPGuard {
	return &TOTPGuard{secret: secret, now: time.Now}
}

// Enabled reports whether codes are required.
func (g *TOTPGuard) Enabled() bool {
	return g != nil && g.secret != ""
}

// Verify checks code against the current 30s window, allowing one window
// of clock skew either side.
func (g *TOTPGuard) Verify(code string) error {
	if !g.Enabled() {
		return nil
	}
	if code == "" {
		return ErrBadCode
	}
	ok, err := totp.ValidateCustom(code, g.secret, g.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !ok {
		return ErrBadCode
	}
	return nil
}
