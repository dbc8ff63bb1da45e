// Package role decides, once per connection, whether a peer is the admin
// observer or an anonymous delivery reporter.
package role

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is fixed for the lifetime of a connection.
type Role int

const (
	// Delivery peers report their own position under a reporter id.
	Delivery Role = iota
	// Admin peers set the sofa position and get an initial snapshot.
	Admin
)

func (r Role) String() string {
	if r == Admin {
		return "admin"
	}
	return "delivery"
}

// Classifier assigns a role to an incoming handshake. It never fails: any
// request that does not qualify as Admin is Delivery.
type Classifier interface {
	Classify(r *http.Request) Role
}

// DefaultMarker is the substring that marks an admin page address.
const DefaultMarker = "localhost"

// RefererClassifier treats the connection as Admin when the page address it
// was opened from contains Marker. The Referer header is used when present,
// otherwise Origin.
type RefererClassifier struct {
	Marker string
}

// Classify implements Classifier.
func (c RefererClassifier) Classify(r *http.Request) Role {
	marker := c.Marker
	if marker == "" {
		marker = DefaultMarker
	}

	hint := r.Referer()
	if hint == "" {
		hint = r.Header.Get("Origin")
	}
	if hint != "" && strings.Contains(hint, marker) {
		return Admin
	}
	return Delivery
}

// Claims carried by an admin token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var errUnexpectedMethod = errors.New("unexpected signing method")

// TokenClassifier grants Admin to connections that present a valid HS256
// token with role "admin", either as the "token" query parameter or as a
// bearer Authorization header.
type TokenClassifier struct {
	Secret []byte
}

// Classify implements Classifier.
func (c TokenClassifier) Classify(r *http.Request) Role {
	raw := tokenFromRequest(r)
	if raw == "" {
		return Delivery
	}

	claims, err := ParseToken(c.Secret, raw)
	if err != nil || claims.Role != Admin.String() {
		return Delivery
	}
	return Admin
}

func tokenFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// IssueToken signs a token for role that expires after ttl.
func IssueToken(secret []byte, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies raw and returns its claims.
func ParseToken(secret []byte, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %v", errUnexpectedMethod, token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return claims, nil
}
