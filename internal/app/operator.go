package app

import (
	"fmt"
	"time"

	"github.com/form3tech-oss/jwt-go"
)

const operatorTokenIssuer = "streambingo"

// OperatorTokenService mints and verifies the short-lived HS256 tokens that
// authorize operator actions inside a session.
type OperatorTokenService struct {
	secret string
	ttl    time.Duration
	now    func() time.Time
}

func NewOperatorTokenService(secret string, ttl time.Duration) *OperatorTokenService {
	return &OperatorTokenService{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a token naming the operator. The subject comes back out of
// Verify so approvals can record who decided them.
func (s *OperatorTokenService) Issue(operatorID string) (string, error) {
	if s == nil || s.secret == "" {
		return "", fmt.Errorf("operator token config is incomplete")
	}
	if operatorID == "" {
		return "", fmt.Errorf("operator id is required")
	}

	claims := jwt.MapClaims{
		"iss": operatorTokenIssuer,
		"sub": operatorID,
		"exp": s.now().Add(s.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secret))
}

// Verify checks signature, issuer and expiry, and returns the operator id.
func (s *OperatorTokenService) Verify(tokenString string) (string, error) {
	if s == nil || s.secret == "" {
		return "", fmt.Errorf("operator token config is incomplete")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid operator token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid operator token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid operator token claims")
	}
	if iss, _ := claims["iss"].(string); iss != operatorTokenIssuer {
		return "", fmt.Errorf("invalid operator token issuer")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("operator token missing subject")
	}
	return sub, nil
}
