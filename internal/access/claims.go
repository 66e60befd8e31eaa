package access

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v4"
)

var validate = validator.New()

// TokenClaims is the payload of a credential signed by the issuing authority.
type TokenClaims struct {
	Role     string `json:"role" validate:"required,max=32"`
	Facility string `json:"facility,omitempty" validate:"omitempty,max=32"`
	jwt.RegisteredClaims
}

// ClaimsResolver decodes bearer credentials into Claims. It performs no I/O.
type ClaimsResolver struct {
	signingKey []byte
}

// NewClaimsResolver builds a resolver verifying HMAC signatures with key.
func NewClaimsResolver(signingKey string) *ClaimsResolver {
	return &ClaimsResolver{signingKey: []byte(signingKey)}
}

// Resolve verifies the credential and extracts role and facility.
func (r *ClaimsResolver) Resolve(credential string) (Claims, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" || r == nil || len(r.signingKey) == 0 {
		return Claims{}, ErrInvalidCredential
	}

	token := &TokenClaims{}
	_, err := jwt.ParseWithClaims(credential, token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.signingKey, nil
	})
	if err != nil {
		// A forged token must never be reported as merely expired.
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return Claims{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if token.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: missing exp claim", ErrInvalidCredential)
	}
	if err := validate.Struct(token); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	role, err := ParseRole(token.Role)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	claims := Claims{Subject: token.Subject, Role: role}
	if role == RoleSuperadmin || strings.TrimSpace(token.Facility) == "" {
		return claims, nil
	}
	facility, err := ParseFacility(token.Facility)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	claims.Facility = facility
	return claims, nil
}

// Sign issues an HS256 credential for the token claims. It exists for the
// issuing authority's tooling and tests; this service only verifies.
func (r *ClaimsResolver) Sign(token TokenClaims) (string, error) {
	if r == nil || len(r.signingKey) == 0 {
		return "", errors.New("access: signing key not configured")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, token).SignedString(r.signingKey)
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
