package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("token is invalid")
	ErrForbidden    = errors.New("forbidden")
)

const issuer = "care-fulfillment"

type Role string

const (
	RolePatient    Role = "patient"
	RoleDoctor     Role = "doctor"
	RolePharmacist Role = "pharmacist"
	RoleAdmin      Role = "admin"
	RoleSystem     Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RolePharmacist, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Staff roles act on behalf of the clinic rather than themselves.
func (r Role) Staff() bool {
	return r == RoleAdmin || r == RoleSystem
}

// Session is the authenticated caller of an operation.
type Session struct {
	UserID uuid.UUID
	Role   Role
}

func (s Session) Is(roles ...Role) bool {
	for _, r := range roles {
		if s.Role == r {
			return true
		}
	}
	return false
}

// Owns reports whether the caller is the given user, or staff.
func (s Session) Owns(userID uuid.UUID) bool {
	return s.Role.Staff() || s.UserID == userID
}

// System is the session background workers run as.
func System() Session {
	return Session{UserID: uuid.Nil, Role: RoleSystem}
}

type ctxKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}

type claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// Tokens signs and verifies HS256 bearer tokens.
type Tokens struct {
	secret []byte
}

func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret)}
}

func (t *Tokens) Issue(s Session, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   s.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now.Add(-10 * time.Second)),
		},
		Role: s.Role,
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (t *Tokens) Parse(raw string) (Session, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Session{}, ErrTokenExpired
		}
		return Session{}, ErrTokenInvalid
	}

	id, err := uuid.Parse(c.Subject)
	if err != nil || !c.Role.Valid() {
		return Session{}, ErrTokenInvalid
	}
	return Session{UserID: id, Role: c.Role}, nil
}
