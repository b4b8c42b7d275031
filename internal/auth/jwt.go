package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/satriahrh/voxbridge/domain/entities"
)

var (
	// ErrMissingToken is returned when the request carries no token
	ErrMissingToken = errors.New("missing auth token")
	// ErrInvalidToken is returned when signature verification fails
	ErrInvalidToken = errors.New("invalid auth token")
	// ErrUnauthorized is returned when the validate callback rejects the caller
	ErrUnauthorized = errors.New("unauthorized")
)

// DefaultAlgorithms is used when signature mode is enabled without an explicit list
var DefaultAlgorithms = []string{"HS256"}

// ValidateFunc resolves the caller from decoded claims. Returning a nil user
// rejects the request. In raw mode the claims are {"token": <raw token>}.
type ValidateFunc func(claims map[string]any, r *http.Request) (*entities.User, error)

// Config configures a Validator
type Config struct {
	// Secret enables JWT signature mode when non-empty
	Secret     string
	Algorithms []string
	Validate   ValidateFunc
}

// Validator authenticates WebSocket upgrade requests
type Validator struct {
	secret     []byte
	algorithms []string
	validate   ValidateFunc
}

// NewValidator creates a Validator. A validate callback is required.
func NewValidator(cfg Config) (*Validator, error) {
	if cfg.Validate == nil {
		return nil, errors.New("auth validate callback is required")
	}

	algorithms := cfg.Algorithms
	if len(algorithms) == 0 {
		algorithms = DefaultAlgorithms
	}

	v := &Validator{
		algorithms: algorithms,
		validate:   cfg.Validate,
	}
	if cfg.Secret != "" {
		v.secret = []byte(cfg.Secret)
	}
	return v, nil
}

// SignatureMode reports whether tokens are verified as JWTs
func (v *Validator) SignatureMode() bool {
	return v.secret != nil
}

// Authenticate extracts and checks the request token, then asks the
// validate callback for the user.
func (v *Validator) Authenticate(r *http.Request) (*entities.User, error) {
	token := ExtractToken(r)
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := map[string]any{"token": token}
	if v.SignatureMode() {
		parsed, err := v.verify(token)
		if err != nil {
			return nil, err
		}
		claims = parsed
	}

	user, err := v.validate(claims, r)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUnauthorized
	}
	return user, nil
}

func (v *Validator) verify(token string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods(v.algorithms))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// ExtractToken reads "Authorization: Bearer <token>", falling back to the
// token query parameter.
func ExtractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// StatusCode maps an Authenticate error to the HTTP status for the rejected upgrade
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// ClaimsUser is a ValidateFunc that takes the user id from the "sub" or
// "user_id" claim, or uses the raw token itself in raw mode.
func ClaimsUser(claims map[string]any, _ *http.Request) (*entities.User, error) {
	for _, key := range []string{"sub", "user_id", "token"} {
		if id, ok := claims[key].(string); ok && id != "" {
			return &entities.User{ID: id, Claims: claims}, nil
		}
	}
	return nil, nil
}

// GenerateToken issues an HS256 token for userID, used by tooling and tests
func GenerateToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
