package consent

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenPurpose is the typ claim value required on unsubscribe tokens; any
// other token, however validly signed, is rejected.
const TokenPurpose = "unsubscribe"

// DefaultTokenTTL is how long an issued unsubscribe link stays valid.
// Links live in email footers, so the window is generous.
const DefaultTokenTTL = 90 * 24 * time.Hour

// DefaultLeeway for clock skew during validation.
const DefaultLeeway = 30 * time.Second

// ErrTokenInvalid is returned when token validation fails.
var ErrTokenInvalid = errors.New("invalid unsubscribe token")

// ErrTokenExpired is returned when the token has expired.
var ErrTokenExpired = errors.New("unsubscribe token has expired")

// ErrEmptySubjectID is returned when subjectID is empty.
var ErrEmptySubjectID = errors.New("subjectID cannot be empty")

// tokenClaims carries the subject and purpose of an unsubscribe token.
type tokenClaims struct {
	jwt.RegisteredClaims
	Purpose string `json:"typ"`
}

// TokenService signs and validates unsubscribe tokens.
// Supports dual-key rotation: tokens are signed with currentSecret but can
// be validated with either currentSecret or previousSecret, so links issued
// before a rotation keep working.
type TokenService struct {
	currentSecret  []byte
	previousSecret []byte
	ttl            time.Duration
	leeway         time.Duration
	now            func() time.Time
}

// NewTokenService creates a TokenService with the given signing secret.
func NewTokenService(secret string) *TokenService {
	return NewTokenServiceWithRotation(secret, "")
}

// NewTokenServiceWithRotation creates a TokenService with dual-key support
// for zero-downtime rotation. Set previousSecret to empty string if no
// rotation is in progress.
func NewTokenServiceWithRotation(currentSecret, previousSecret string) *TokenService {
	svc := &TokenService{
		currentSecret: []byte(currentSecret),
		ttl:           DefaultTokenTTL,
		leeway:        DefaultLeeway,
		now:           time.Now,
	}
	if previousSecret != "" {
		svc.previousSecret = []byte(previousSecret)
	}
	return svc
}

// SetNow overrides the clock.
func (s *TokenService) SetNow(now func() time.Time) { s.now = now }

// SetTTL overrides the token lifetime.
func (s *TokenService) SetTTL(ttl time.Duration) { s.ttl = ttl }

// Issue creates a signed unsubscribe token for the subject.
func (s *TokenService) Issue(subjectID string) (string, error) {
	if subjectID == "" {
		return "", ErrEmptySubjectID
	}

	now := s.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Purpose: TokenPurpose,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.currentSecret)
}

// Validate parses the token and returns the subject it was issued for.
// Tries currentSecret first, then previousSecret if available.
func (s *TokenService) Validate(tokenString string) (string, error) {
	claims, err := s.parseWith(tokenString, s.currentSecret)
	if err != nil && s.previousSecret != nil {
		var prevErr error
		claims, prevErr = s.parseWith(tokenString, s.previousSecret)
		if prevErr == nil {
			err = nil
		}
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrTokenInvalid
	}
	if claims.Purpose != TokenPurpose || claims.Subject == "" {
		return "", ErrTokenInvalid
	}
	return claims.Subject, nil
}

func (s *TokenService) parseWith(tokenString string, secret []byte) (*tokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrTokenInvalid
		}
		return secret, nil
	}, jwt.WithLeeway(s.leeway), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
