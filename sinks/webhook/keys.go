package webhook

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Keys sign and verify the bearer tokens presented by webhook sinks.
// The first key signs tokens, and any key may verify a token.
type Keys struct {
	jwt.VerificationKeySet
}

// ParseKeys returns Keys of the given pre-shared secret keys, which are
// base64 encoded and separated by whitespace and/or commas.
func ParseKeys(base64Keys string) (*Keys, error) {
	var keys jwt.VerificationKeySet

	for i, key := range strings.Fields(strings.ReplaceAll(base64Keys, ",", " ")) {
		if b, err := base64.StdEncoding.DecodeString(key); err != nil {
			return nil, fmt.Errorf("failed to decode key at index %d: %w", i, err)
		} else {
			keys.Keys = append(keys.Keys, b)
		}
	}
	if len(keys.Keys) == 0 {
		return nil, fmt.Errorf("at least one key must be provided")
	}
	return &Keys{keys}, nil
}

// Sign returns a token for |subject| which expires after |ttl|.
func (k *Keys) Sign(subject string, ttl time.Duration) (string, error) {
	var now = time.Now()
	var claims = jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k.Keys[0])
}

// Verify that |token| is a current token for |subject|, signed by any of the Keys.
func (k *Keys) Verify(token, subject string) error {
	var claims jwt.RegisteredClaims

	if parsed, err := jwt.ParseWithClaims(token, &claims,
		func(token *jwt.Token) (interface{}, error) { return k.VerificationKeySet, nil },
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithSubject(subject),
		jwt.WithLeeway(time.Second*5),
		jwt.WithValidMethods([]string{"HS256", "HS384"}),
	); err != nil {
		return fmt.Errorf("verifying token: %w", err)
	} else if !parsed.Valid {
		panic("token.Valid must be true")
	}
	return nil
}

const tokenIssuer = "talusdb"
