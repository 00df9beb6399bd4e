package order

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"time"
)

const DefaultTokenPrefix = "LB"

var tokenPattern = regexp.MustCompile(`^[A-Z]{2,8}-\d{8}-\d{4}$`)

// NewToken builds a human-readable order token: <prefix>-<YYYYMMDD>-<4 digits>.
// Uniqueness is only probabilistic; the server rejects nothing on collision and
// treats a repeated token as the same order.
func NewToken(prefix string, now time.Time) string {
	if prefix == "" {
		prefix = DefaultTokenPrefix
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, now.Format("20060102"), rand.IntN(10000))
}

func ValidateToken(token string) error {
	if !tokenPattern.MatchString(token) {
		return fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	if _, err := time.Parse("20060102", token[len(token)-13:len(token)-5]); err != nil {
		return fmt.Errorf("%w: %q has an invalid date", ErrInvalidToken, token)
	}
	return nil
}
