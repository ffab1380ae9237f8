// Package auth implements the two handshake variants that turn an anonymous
// connection into an authenticated session: the visual code flow, where the
// user scans a displayed code, and the short code flow, where the user types
// a code the service pushed to their phone.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/postalsys/wirelink/internal/events"
	"github.com/postalsys/wirelink/internal/keys"
	"github.com/postalsys/wirelink/internal/logging"
	"github.com/postalsys/wirelink/internal/metrics"
	"github.com/postalsys/wirelink/internal/session"
	"github.com/postalsys/wirelink/internal/state"
)

// Handshake method names.
const (
	MethodVisualCode = "visual-code"
	MethodShortCode  = "short-code"
)

// Rejection reason codes.
const (
	ReasonMissing     = "missing"      // phone not registered with the service
	ReasonRateLimited = "rate-limited" // too many attempts
	ReasonUnknown     = "unknown"
)

// Error is a rejected handshake with its reason code.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// ErrInvalidPhone reports an unusable phone identifier.
var ErrInvalidPhone = errors.New("invalid phone identifier")

// Config tunes the handshake engine.
type Config struct {
	Method      string
	Phone       string
	CodeTimeout time.Duration // visual code lifetime
	MaxRetries  int           // visual code refresh budget
}

// Callbacks are the engine's channels back into the client core. The engine
// never holds a reference to the client itself.
type Callbacks struct {
	// SendStructured sends one structured admin frame.
	SendStructured func(ctx context.Context, doc map[string]any) error

	// Transition applies a connection state transition.
	Transition func(to state.State) error

	// Emit publishes an event to subscribers.
	Emit func(events.Event)

	// Persist stores the materialized session.
	Persist func(*session.Session) error

	// ForceDisconnect tears down the connection after a fatal handshake
	// failure. No reconnect follows.
	ForceDisconnect func(reason string)
}

// Engine drives one handshake per connection epoch.
type Engine struct {
	mu      sync.Mutex
	log     *slog.Logger
	cfg     Config
	cb      Callbacks
	metrics *metrics.Metrics

	keyPair  *keys.KeyPair
	clientID string

	ref     string
	retries int
	expiry  *time.Timer
	done    bool
}

// NewEngine creates a handshake engine.
func NewEngine(cfg Config, cb Callbacks, log *slog.Logger, m *metrics.Metrics) *Engine {
	if log == nil {
		log = logging.NopLogger()
	}
	if m == nil {
		m = metrics.Default()
	}
	return &Engine{
		log:     log,
		cfg:     cfg,
		cb:      cb,
		metrics: m,
	}
}

// EnsureKeys generates the handshake keypair and client identifier if the
// engine does not hold them yet. Existing material is reused across visual
// code refreshes within one login attempt.
func (e *Engine) EnsureKeys() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.keyPair != nil {
		return nil
	}

	kp, err := keys.Generate()
	if err != nil {
		return err
	}
	id, err := keys.NewClientID()
	if err != nil {
		return err
	}
	e.keyPair = kp
	e.clientID = id
	return nil
}

// ClientID returns the client identifier, empty before EnsureKeys.
func (e *Engine) ClientID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clientID
}

// PublicKeyBase64 returns the handshake public key, empty before EnsureKeys.
func (e *Engine) PublicKeyBase64() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.keyPair == nil {
		return ""
	}
	return e.keyPair.PublicBase64()
}

// Retries returns the visual code refresh count for this login attempt.
func (e *Engine) Retries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retries
}

// HandleReference consumes a handshake reference pushed by the server in the
// visual code flow: it publishes the display payload and arms the expiry
// timer. A fresh reference rearms the timer without consuming a retry.
func (e *Engine) HandleReference(ref string) error {
	if err := e.EnsureKeys(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return nil
	}
	e.ref = ref
	e.stopExpiryLocked()
	e.expiry = time.AfterFunc(e.cfg.CodeTimeout, e.expire)
	pub := e.keyPair.PublicBase64()
	id := e.clientID
	e.mu.Unlock()

	e.log.Debug("visual code received", logging.KeyClientID, id)
	e.cb.Emit(events.VisualCode{
		Ref:              ref,
		ClientID:         id,
		PublicKey:        pub,
		ExpiresInSeconds: int(e.cfg.CodeTimeout / time.Second),
	})
	return nil
}

// expire fires when a visual code lapses without a success reply.
func (e *Engine) expire() {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return
	}
	e.retries++
	attempt := e.retries
	exhausted := attempt >= e.cfg.MaxRetries
	if exhausted {
		e.done = true
	}
	e.mu.Unlock()

	if exhausted {
		e.log.Warn("visual code retries exhausted", logging.KeyAttempt, attempt)
		e.metrics.RecordAuthOutcome(MethodVisualCode, "max_retries")
		e.cb.Emit(events.VisualCodeMaxRetries{})
		if e.cb.ForceDisconnect != nil {
			e.cb.ForceDisconnect("qr_max_retries")
		}
		return
	}

	e.log.Info("visual code expired, awaiting fresh reference", logging.KeyAttempt, attempt)
	e.metrics.CodeRefreshes.Inc()
	e.cb.Emit(events.VisualCodeExpired{Attempt: attempt})
}

// RequestPairingCode runs the short code flow: one structured request with a
// fresh per-attempt reference, no automatic retry. The outcome arrives later
// through HandlePairingReply.
func (e *Engine) RequestPairingCode(ctx context.Context, phone string) error {
	formatted, err := FormatPhone(phone)
	if err != nil {
		return err
	}
	if err := e.EnsureKeys(); err != nil {
		return err
	}

	ref, err := newReference()
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.ref = ref
	pub := e.keyPair.PublicBase64()
	e.mu.Unlock()

	doc := map[string]any{
		"type":      "pair_request",
		"ref":       ref,
		"publicKey": pub,
		"phone":     formatted,
	}
	if err := e.cb.SendStructured(ctx, doc); err != nil {
		return fmt.Errorf("send pairing request: %w", err)
	}

	e.log.Info("pairing code requested", logging.KeyPhone, formatted)
	e.cb.Emit(events.PairingCodeRequested{Phone: formatted})
	return nil
}

// HandlePairingReply consumes the single outcome of a short code request.
func (e *Engine) HandlePairingReply(doc map[string]any) {
	typ, _ := doc["type"].(string)
	switch typ {
	case "pair_code":
		code, _ := doc["code"].(string)
		e.metrics.RecordAuthOutcome(MethodShortCode, "pair_code")
		e.cb.Emit(events.PairingCode{Code: code})

	case "pair_error":
		reason := normalizeReason(doc["reason"])
		e.log.Warn("pairing request rejected", logging.KeyReason, reason)
		e.metrics.RecordAuthOutcome(MethodShortCode, "pair_error")
		e.cb.Emit(events.PairingCodeError{Reason: reason})

	default:
		e.log.Warn("unexpected pairing reply", logging.KeyKind, typ)
	}
}

// HandleSuccess materializes the session from a handshake success message,
// persists it, and moves the connection to Authenticated. The settle delay
// to Ready is owned by the caller.
func (e *Engine) HandleSuccess(doc map[string]any) (*session.Session, error) {
	e.mu.Lock()
	e.stopExpiryLocked()
	e.done = true
	ref := e.ref
	kp := e.keyPair
	clientID := e.clientID
	e.mu.Unlock()

	serverToken, _ := doc["session"].(string)
	clientToken, _ := doc["clientToken"].(string)
	wid, _ := doc["wid"].(string)
	name, _ := doc["pushname"].(string)
	if serverToken == "" || clientToken == "" {
		return nil, &Error{Reason: ReasonUnknown}
	}

	material, err := keyMaterial(kp, ref, doc)
	if err != nil {
		return nil, err
	}

	sess := &session.Session{
		ClientID:    clientID,
		ServerToken: serverToken,
		ClientToken: clientToken,
		KeyMaterial: material,
		Identity: session.Identity{
			ID:    wid,
			Name:  name,
			Phone: phoneFromID(wid),
		},
		CreatedAt: time.Now(),
	}

	if e.cb.Persist != nil {
		if err := e.cb.Persist(sess); err != nil {
			return nil, fmt.Errorf("persist session: %w", err)
		}
	}
	if err := e.cb.Transition(state.Authenticated); err != nil {
		return nil, err
	}

	method := e.cfg.Method
	if method == "" {
		method = MethodVisualCode
	}
	e.metrics.RecordAuthOutcome(method, "success")
	e.log.Info("authenticated", logging.KeyClientID, clientID, "wid", wid)
	e.cb.Emit(events.Authenticated{User: sess.Identity, Session: sess})
	return sess, nil
}

// Reset clears the per-connection handshake state: the expiry timer, the
// reference, and the completion flag. Key material survives so a reconnect
// during one login attempt reuses the displayed identity.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopExpiryLocked()
	e.ref = ""
	e.done = false
}

// ResetRetries zeroes the visual code refresh counter. Called on Ready.
func (e *Engine) ResetRetries() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retries = 0
}

func (e *Engine) stopExpiryLocked() {
	if e.expiry != nil {
		e.expiry.Stop()
		e.expiry = nil
	}
}

// keyMaterial derives the session key block. When the success message carries
// the server's handshake secret, the X25519 shared secret is expanded with
// HKDF; otherwise the raw keypair is retained as the material.
func keyMaterial(kp *keys.KeyPair, ref string, doc map[string]any) ([]byte, error) {
	if kp == nil {
		return nil, &Error{Reason: ReasonUnknown}
	}

	secretB64, _ := doc["secret"].(string)
	if secretB64 == "" {
		material := make([]byte, 0, 2*keys.KeySize)
		material = append(material, kp.Private[:]...)
		material = append(material, kp.Public[:]...)
		return material, nil
	}

	secret, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil || len(secret) < keys.KeySize {
		return nil, fmt.Errorf("malformed handshake secret: %w", &Error{Reason: ReasonUnknown})
	}

	var serverPub [keys.KeySize]byte
	copy(serverPub[:], secret[:keys.KeySize])
	shared, err := kp.SharedSecret(serverPub)
	if err != nil {
		return nil, err
	}
	return keys.ExpandKeyBlock(shared, ref)
}

// FormatPhone normalizes a phone identifier to bare digits.
func FormatPhone(phone string) (string, error) {
	var b strings.Builder
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
			// stripped
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}
	return b.String(), nil
}

// phoneFromID extracts the phone digits from a service identity id like
// "40712345678@s".
func phoneFromID(id string) string {
	if idx := strings.IndexByte(id, '@'); idx >= 0 {
		return id[:idx]
	}
	return id
}

// newReference generates a fresh per-attempt handshake reference.
func newReference() (string, error) {
	var buf [16]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return "", fmt.Errorf("generate reference: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf[:]), nil
}

// normalizeReason maps a server reason field onto the error taxonomy.
func normalizeReason(v any) string {
	reason, _ := v.(string)
	switch reason {
	case ReasonMissing, ReasonRateLimited:
		return reason
	default:
		return ReasonUnknown
	}
}
