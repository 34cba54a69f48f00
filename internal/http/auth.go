package http

import (
	"crypto/rsa"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
)

const (
	guestPrefix     = "guest_"
	maxSessionIDLen = 128
)

// Authenticator verifies bearer tokens issued by the account service.
// RS256 is used when a public key is configured, HS256 with a shared
// secret otherwise.
type Authenticator struct {
	publicKey *rsa.PublicKey
	secret    []byte
}

func NewAuthenticator(publicKeyPEM, secret string) (*Authenticator, error) {
	a := &Authenticator{}
	if publicKeyPEM != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
		if err != nil {
			return nil, errors.Wrap(err, "parse JWT_PUBLIC_KEY")
		}
		a.publicKey = key
	}
	if secret != "" {
		a.secret = []byte(secret)
	}
	return a, nil
}

// Subject returns the user id carried by a valid token.
func (a *Authenticator) Subject(token string) (string, error) {
	if a == nil || (a.publicKey == nil && a.secret == nil) {
		return "", errors.New("token authentication is not configured")
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA:
			if a.publicKey != nil {
				return a.publicKey, nil
			}
		case *jwt.SigningMethodHMAC:
			if a.secret != nil {
				return a.secret, nil
			}
		}
		return nil, errors.Newf("unexpected signing method %s", t.Method.Alg())
	}, jwt.WithValidMethods([]string{"RS256", "HS256"}))
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
