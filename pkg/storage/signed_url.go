package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/atb-stewardship-api/pkg/clock"
)

var (
	// ErrTokenInvalid marks a malformed or tampered download token.
	ErrTokenInvalid = errors.New("invalid download token")
	// ErrTokenExpired marks a well-formed token past its expiry.
	ErrTokenExpired = errors.New("download token expired")
)

// SignedURLSigner creates and validates signed download tokens for stored artifacts.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewSignedURLSigner constructs a signer. A nil clock uses the system clock in UTC.
func NewSignedURLSigner(secret string, ttl time.Duration, clk clock.Clock) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if clk == nil {
		clk = clock.NewSystem(time.UTC)
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  clk,
	}
}

// TTL returns the lifetime of issued tokens.
func (s *SignedURLSigner) TTL() time.Duration {
	return s.ttl
}

// Generate returns a token binding the owning record id to a stored path.
func (s *SignedURLSigner) Generate(ownerID, relPath string) (string, time.Time, error) {
	if ownerID == "" || relPath == "" {
		return "", time.Time{}, fmt.Errorf("owner id and path required")
	}
	if strings.Contains(ownerID, ".") {
		return "", time.Time{}, fmt.Errorf("owner id must not contain '.'")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.clock.Now().Add(s.ttl).Truncate(time.Second)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedPath := base64.RawURLEncoding.EncodeToString([]byte(relPath))
	token := strings.Join([]string{ownerID, ts, encodedPath, s.sign(ownerID, ts, encodedPath)}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the embedded metadata.
// When allowExpired is true the expiry check is skipped.
func (s *SignedURLSigner) Parse(token string, allowExpired bool) (ownerID, relPath string, expiresAt time.Time, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return "", "", time.Time{}, ErrTokenInvalid
	}
	ownerID, ts, encodedPath, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.sign(ownerID, ts, encodedPath)), []byte(signature)) {
		return "", "", time.Time{}, ErrTokenInvalid
	}
	rawPath, err := base64.RawURLEncoding.DecodeString(encodedPath)
	if err != nil {
		return "", "", time.Time{}, ErrTokenInvalid
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", "", time.Time{}, ErrTokenInvalid
	}
	expiresAt = time.Unix(expUnix, 0)
	if !allowExpired && s.clock.Now().After(expiresAt) {
		return "", "", time.Time{}, ErrTokenExpired
	}
	return ownerID, string(rawPath), expiresAt, nil
}

func (s *SignedURLSigner) sign(ownerID, ts, encodedPath string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(ownerID + "|" + ts + "|" + encodedPath))
	return hex.EncodeToString(mac.Sum(nil))
}
