// Package security implements the identity gate: authentication attempt
// tracking with lockout, security sessions with two distinct lifetimes, and
// sealing of sensitive profile data.
//
// Sensitive customer fields never live in plaintext outside the sealed blob
// produced by Encrypt; flows decode it on demand and logout clears it
// synchronously.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Default gate policy values.
const (
	// DefaultMaxAuthAttempts is the number of failures before lockout.
	DefaultMaxAuthAttempts = 3
	// DefaultLockoutDuration is how long a locked identity stays blocked.
	DefaultLockoutDuration = 15 * time.Minute
	// NominalSessionLifetime is the session duration for active customers.
	NominalSessionLifetime = 2 * time.Hour
	// RestrictedSessionLifetime is the shorter duration granted to customers
	// whose service is inactive; they only see a restricted menu.
	RestrictedSessionLifetime = 30 * time.Minute
)

type authAttempt struct {
	failures     int
	lastAttempt  time.Time
	blockedUntil time.Time
}

type securitySession struct {
	id           string
	createdAt    time.Time
	lastActivity time.Time
	expiresAt    time.Time
	restricted   bool
}

// Gate tracks auth attempts, lockouts and security sessions per identity.
type Gate struct {
	mu          sync.Mutex
	attempts    map[string]*authAttempt
	sessions    map[string]*securitySession
	maxAttempts int
	lockout     time.Duration
	key         []byte
	now         func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithMaxAttempts overrides the failure threshold before lockout.
func WithMaxAttempts(n int) Option {
	return func(g *Gate) { g.maxAttempts = n }
}

// WithLockoutDuration overrides the lockout duration.
func WithLockoutDuration(d time.Duration) Option {
	return func(g *Gate) { g.lockout = d }
}

// WithEncryptionKey sets the secret used to derive the profile sealing key.
func WithEncryptionKey(secret string) Option {
	return func(g *Gate) {
		sum := sha256.Sum256([]byte(secret))
		g.key = sum[:]
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a Gate with default policy. An encryption key must be
// provided via WithEncryptionKey before Encrypt/Decrypt are used; a gate
// without one refuses to seal.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		attempts:    make(map[string]*authAttempt),
		sessions:    make(map[string]*securitySession),
		maxAttempts: DefaultMaxAuthAttempts,
		lockout:     DefaultLockoutDuration,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RecordAuthAttempt registers the outcome of an authentication attempt and
// reports whether the identity may retry. Success resets the counter. The
// threshold-crossing failure starts the lockout window.
func (g *Gate) RecordAuthAttempt(phoneNumber string, success bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	att, ok := g.attempts[phoneNumber]
	if !ok {
		att = &authAttempt{}
	}

	if !att.blockedUntil.IsZero() && now.Before(att.blockedUntil) {
		return false
	}

	if success {
		delete(g.attempts, phoneNumber)
		return true
	}

	att.failures++
	att.lastAttempt = now
	if att.failures >= g.maxAttempts {
		att.blockedUntil = now.Add(g.lockout)
		slog.Warn("Gate identity locked after failed auth attempts", "phone", phoneNumber, "lockout_minutes", int(g.lockout.Minutes()))
	}
	g.attempts[phoneNumber] = att
	return att.failures < g.maxAttempts
}

// RemainingAttempts returns how many failures remain before lockout.
func (g *Gate) RemainingAttempts(phoneNumber string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	att, ok := g.attempts[phoneNumber]
	if !ok {
		return g.maxAttempts
	}
	remaining := g.maxAttempts - att.failures
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsBlocked reports whether the identity is locked out, and if so for how
// many whole minutes (rounded up). Expired blocks are cleaned up here so a
// locked identity unlocks without any background work.
func (g *Gate) IsBlocked(phoneNumber string) (bool, int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	att, ok := g.attempts[phoneNumber]
	if !ok || att.blockedUntil.IsZero() {
		return false, 0
	}
	now := g.now()
	if !now.Before(att.blockedUntil) {
		delete(g.attempts, phoneNumber)
		return false, 0
	}
	remaining := int((att.blockedUntil.Sub(now) + time.Minute - 1) / time.Minute)
	return true, remaining
}

// CreateSession opens a security session for the identity. Restricted
// sessions get the shorter lifetime used for inactive-service customers.
func (g *Gate) CreateSession(phoneNumber string, restricted bool) (string, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lifetime := NominalSessionLifetime
	if restricted {
		lifetime = RestrictedSessionLifetime
	}

	now := g.now()
	sess := &securitySession{
		id:           newSessionID(),
		createdAt:    now,
		lastActivity: now,
		expiresAt:    now.Add(lifetime),
		restricted:   restricted,
	}
	g.sessions[phoneNumber] = sess
	slog.Info("Gate session created", "phone", phoneNumber, "restricted", restricted, "expires_at", sess.expiresAt)
	return sess.id, sess.expiresAt
}

// SessionStatus describes an identity's security session for flow branching.
type SessionStatus struct {
	Valid            bool
	Restricted       bool
	RemainingMinutes int
}

// ValidateSession checks the identity's session, refreshes its activity
// timestamp, and reports validity, the restricted marker and the remaining
// minutes until expiry.
func (g *Gate) ValidateSession(phoneNumber string) SessionStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	sess, ok := g.sessions[phoneNumber]
	if !ok {
		return SessionStatus{}
	}
	now := g.now()
	if !now.Before(sess.expiresAt) {
		delete(g.sessions, phoneNumber)
		slog.Debug("Gate session expired", "phone", phoneNumber)
		return SessionStatus{}
	}
	sess.lastActivity = now
	remaining := int(sess.expiresAt.Sub(now) / time.Minute)
	return SessionStatus{Valid: true, Restricted: sess.restricted, RemainingMinutes: remaining}
}

// InvalidateSession drops the identity's session immediately.
func (g *Gate) InvalidateSession(phoneNumber string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, phoneNumber)
	slog.Info("Gate session invalidated", "phone", phoneNumber)
}

// Sweep drops expired sessions and released lockouts. Wired to the
// maintenance scheduler.
func (g *Gate) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cleaned := 0
	for phone, sess := range g.sessions {
		if !now.Before(sess.expiresAt) {
			delete(g.sessions, phone)
			cleaned++
		}
	}
	for phone, att := range g.attempts {
		if !att.blockedUntil.IsZero() && !now.Before(att.blockedUntil) {
			delete(g.attempts, phone)
			cleaned++
		}
	}
	if cleaned > 0 {
		slog.Debug("Gate sweep removed expired entries", "count", cleaned)
	}
	return cleaned
}

// Encrypt seals the profile JSON with AES-256-GCM. The output is
// hex(nonce):hex(ciphertext).
func (g *Gate) Encrypt(profileJSON string) (string, error) {
	if len(g.key) == 0 {
		return "", fmt.Errorf("encryption key not configured")
	}
	block, err := aes.NewCipher(g.key)
	if err != nil {
		return "", fmt.Errorf("failed to build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to build GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, []byte(profileJSON), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt.
func (g *Gate) Decrypt(blob string) (string, error) {
	if len(g.key) == 0 {
		return "", fmt.Errorf("encryption key not configured")
	}
	parts := strings.SplitN(blob, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid sealed blob format")
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("invalid nonce encoding: %w", err)
	}
	sealed, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext encoding: %w", err)
	}
	block, err := aes.NewCipher(g.key)
	if err != nil {
		return "", fmt.Errorf("failed to build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to build GCM: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("invalid nonce length")
	}
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open sealed blob: %w", err)
	}
	return string(plain), nil
}

func newSessionID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken; an id is still
		// required, so fall back to a time-derived value.
		return fmt.Sprintf("s%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
