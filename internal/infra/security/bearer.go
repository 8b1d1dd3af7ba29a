package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
)

var (
	// ErrBearerInvalid indicates a bearer credential failed signature or claim checks.
	ErrBearerInvalid = errors.New("bearer: invalid credential")
	// ErrBearerExpired indicates a bearer credential is past its expiry.
	ErrBearerExpired = errors.New("bearer: credential expired")
)

const defaultBearerTTL = time.Hour

// BearerClaims identifies the account a bearer credential was issued to.
type BearerClaims struct {
	AccountID string `json:"aid"`
	jwt.RegisteredClaims
}

// BearerIssuer signs and parses HS256 bearer credentials for the store API relay.
type BearerIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewBearerIssuer constructs an issuer. A non-positive ttl falls back to one hour.
func NewBearerIssuer(secret, issuer string, ttl time.Duration) (*BearerIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("bearer: secret is required")
	}
	if ttl <= 0 {
		ttl = defaultBearerTTL
	}
	return &BearerIssuer{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithClock overrides the issuer clock, primarily for tests.
func (b *BearerIssuer) WithClock(now func() time.Time) *BearerIssuer {
	if now != nil {
		b.now = now
	}
	return b
}

// Issue signs a credential for accountID and returns it with its expiry.
func (b *BearerIssuer) Issue(accountID string) (string, time.Time, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", time.Time{}, fmt.Errorf("bearer: account id is required")
	}

	now := b.now().UTC()
	expiresAt := now.Add(b.ttl)
	claims := &BearerClaims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    b.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("bearer: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates token and returns its claims.
func (b *BearerIssuer) Parse(token string) (*BearerClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrBearerInvalid
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(b.now),
	}
	if b.issuer != "" {
		opts = append(opts, jwt.WithIssuer(b.issuer))
	}

	claims := &BearerClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return b.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrBearerExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrBearerInvalid, err)
	}
	if !parsed.Valid || claims.AccountID == "" {
		return nil, ErrBearerInvalid
	}
	return claims, nil
}
