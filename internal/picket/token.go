package picket

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenStatus describes the access token held for a browser session
type TokenStatus int

const (
	TokenMissing TokenStatus = iota
	TokenInvalid
	TokenExpired
	TokenValid
)

var tokenStatusNames = []string{"TokenMissing", "TokenInvalid", "TokenExpired", "TokenValid"}

func (t TokenStatus) String() string {
	if t < 0 || int(t) >= len(tokenStatusNames) {
		return fmt.Sprintf("TokenStatus(%d)", int(t))
	}
	return tokenStatusNames[t]
}

// CheckToken reports the status of a Picket access token at time now.
//
// The signature is not verified here - Picket is the only party that can do that and does so on every authz call.
// The claims are only read to find out whether the session has ended.
func CheckToken(accessToken string, now time.Time) TokenStatus {
	if accessToken == "" {
		return TokenMissing
	}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := &jwt.RegisteredClaims{}

	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return TokenInvalid
	}

	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return TokenExpired
	}

	return TokenValid
}
