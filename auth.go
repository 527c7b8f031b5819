package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// genToken returns n random bytes hex-encoded, used for refresh tokens.
func genToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashPassword(p string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.DefaultCost)
	return string(b), err
}

// comparePassword returns false on mismatch and on malformed stored hashes;
// it never panics.
func comparePassword(hash, p string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) == nil
}

// Claims is the closed claim set carried by a session token. Purpose is empty
// for access tokens; password-reset and email-verification tokens carry a
// purpose so one kind cannot stand in for another.
type Claims struct {
	UserID  string `json:"user_id,omitempty"`
	IsAdmin bool   `json:"is_admin,omitempty"`
	Purpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies session tokens. The secret and default TTL
// are fixed at construction; tokens are stateless and cannot be revoked, so
// expiry is the only termination mechanism.
type TokenCodec struct {
	secret     []byte
	defaultTTL time.Duration
}

func NewTokenCodec(secret []byte, defaultTTL time.Duration) *TokenCodec {
	return &TokenCodec{secret: secret, defaultTTL: defaultTTL}
}

// Issue returns a signed HS256 token for the given subject. A zero ttl falls
// back to the codec default; a negative ttl yields an already-expired token.
func (c *TokenCodec) Issue(userID string, isAdmin bool, ttl time.Duration) (string, error) {
	return c.issue(Claims{UserID: userID, IsAdmin: isAdmin}, ttl)
}

// IssuePurpose returns a purpose-scoped token (password reset, email
// verification) that Decode callers can tell apart from access tokens.
func (c *TokenCodec) IssuePurpose(userID, purpose string, ttl time.Duration) (string, error) {
	return c.issue(Claims{UserID: userID, Purpose: purpose}, ttl)
}

func (c *TokenCodec) issue(claims Claims, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Decode verifies the signature and expiry and returns the claim set.
// Signature failures (including malformed tokens and wrong algorithms) come
// back as ErrInvalidSignature, expired-but-well-signed tokens as
// ErrTokenExpired. Callers above the codec collapse the two.
func (c *TokenCodec) Decode(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidSignature
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}

	return claims, nil
}
