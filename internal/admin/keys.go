package admin

import (
	"crypto/rsa"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ParseRSAPublicKey parses a PEM-encoded RSA public key, for hosts loading
// the admin API's JWT verification key from disk.
func ParseRSAPublicKey(pem []byte) (*rsa.PublicKey, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("admin: parse RSA public key: %w", err)
	}
	return key, nil
}
