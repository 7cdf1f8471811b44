package middleware

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/Deniallugo/jsonrpc-v2/endpoint"
)

var (
	ErrNoSession   = errors.New("no active session")
	ErrKeyNotFound = errors.New("session key not found")
)

// DefaultTokenHeader carries the session token in both directions.
const DefaultTokenHeader = "X-Session-Token"

// DefaultSessionPeriod is the lifetime of a new session.
const DefaultSessionPeriod = 24 * time.Hour

// MaxExtendedPeriod bounds the total lifetime of a session, however often it
// is extended.
const MaxExtendedPeriod = 90 * 24 * time.Hour

// DefaultExtendThreshold is the remaining lifetime below which a session is
// extended.
const DefaultExtendThreshold = DefaultSessionPeriod / 4

// Session is request-scoped session state. It is safe for concurrent use,
// so handlers of one batch may share it.
type Session interface {
	// ID returns the session id, or "" without an active session.
	ID() string
	// Subject returns the logged-in subject.
	Subject() (string, bool)
	// Login starts a fresh session for subject, discarding any previous
	// id and values.
	Login(subject string) error
	// Logout ends the session.
	Logout()
	// Expires returns the expiry time, or the zero time without a session.
	Expires() time.Time
	// Get decodes the value stored under key into dest.
	Get(key string, dest any) error
	// Set stores value under key.
	Set(key string, value any) error
	// Delete removes key. It is a no-op if key is absent.
	Delete(key string)
}

// sessionData is the sealed token payload.
type sessionData struct {
	ID      string    `cbor:"1,keyasint"`
	Subject string    `cbor:"2,keyasint"`
	Expires time.Time `cbor:"3,keyasint"`
	// Period is the total lifetime in seconds from creation to Expires.
	Period int                        `cbor:"4,keyasint"`
	KV     map[string]cbor.RawMessage `cbor:"5,keyasint,omitempty"`
}

func newSessionData(period time.Duration) (*sessionData, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	// Truncating moves creation into the past so the period is never short.
	now := time.Now().Truncate(time.Second)
	return &sessionData{
		ID:      id.String(),
		Expires: now.Add(period),
		Period:  int(period.Seconds()),
		KV:      map[string]cbor.RawMessage{},
	}, nil
}

// validate reports whether sd is usable now. A session with less than
// extendThreshold left is extended to extendPeriod from now.
func (sd *sessionData) validate(extendThreshold, extendPeriod time.Duration) (ok, extended bool) {
	if sd == nil || sd.Period <= 0 || sd.Period > int(MaxExtendedPeriod.Seconds()) {
		return false, false
	}
	now := time.Now()
	if sd.Expires.IsZero() || !now.Before(sd.Expires) {
		return false, false
	}
	if extendThreshold <= 0 || extendPeriod < extendThreshold {
		return true, false
	}
	if sd.Expires.Sub(now) < extendThreshold {
		return true, sd.extendTo(now.Add(extendPeriod))
	}
	return true, false
}

// extendTo moves Expires forward to newExpires, capped at MaxExtendedPeriod
// after creation. It reports whether Expires changed.
func (sd *sessionData) extendTo(newExpires time.Time) bool {
	if sd.Expires.IsZero() {
		return false
	}
	newExpires = newExpires.Truncate(time.Second)
	created := sd.Expires.Add(-time.Duration(sd.Period) * time.Second)
	if limit := created.Add(MaxExtendedPeriod); newExpires.After(limit) {
		newExpires = limit
	}
	if !newExpires.After(sd.Expires) {
		return false
	}
	sd.Period += int(newExpires.Sub(sd.Expires).Seconds())
	sd.Expires = newExpires
	return true
}

type session struct {
	mu     sync.Mutex
	data   *sessionData
	period time.Duration
	dirty  bool
}

func (s *session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return ""
	}
	return s.data.ID
}

func (s *session) Subject() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil || s.data.Subject == "" {
		return "", false
	}
	return s.data.Subject, true
}

func (s *session) Login(subject string) error {
	sd, err := newSessionData(s.period)
	if err != nil {
		return err
	}
	sd.Subject = subject

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = sd
	s.dirty = true
	return nil
}

func (s *session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data != nil {
		s.data = nil
		s.dirty = true
	}
}

func (s *session) Expires() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return time.Time{}
	}
	return s.data.Expires
}

func (s *session) Get(key string, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return ErrNoSession
	}
	raw, ok := s.data.KV[key]
	if !ok {
		return ErrKeyNotFound
	}
	return cbor.Unmarshal(raw, dest)
}

func (s *session) Set(key string, value any) error {
	raw, err := cbor.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return ErrNoSession
	}
	if s.data.KV == nil {
		s.data.KV = map[string]cbor.RawMessage{}
	}
	s.data.KV[key] = raw
	s.dirty = true
	return nil
}

func (s *session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return
	}
	if _, ok := s.data.KV[key]; ok {
		delete(s.data.KV, key)
		s.dirty = true
	}
}

type sessionKey struct{}

// WithSession stores sess in ctx.
func WithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFromContext returns the Session installed by SessionProcessor.
// JSON-RPC handlers served over HTTP see the request context, so they can
// call it directly.
func SessionFromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(Session)
	return sess, ok && sess != nil
}

// SessionProcessor keeps session state in a sealed token that the client
// echoes in a request header.
//
// A valid token is opened and its session installed in the request context.
// A missing token yields an empty session that handlers may Login to. When
// the session changes, or is extended, a new token is written to the same
// response header; an empty header value tells the client to discard its
// token.
type SessionProcessor struct {
	sealer          *Sealer
	header          string
	period          time.Duration
	extendThreshold time.Duration
}

// SessionOption configures a SessionProcessor.
type SessionOption func(*SessionProcessor)

// WithTokenHeader sets the header carrying the token.
func WithTokenHeader(name string) SessionOption {
	return func(p *SessionProcessor) {
		if name != "" {
			p.header = http.CanonicalHeaderKey(name)
		}
	}
}

// WithSessionPeriod sets the lifetime of new sessions and of extensions.
func WithSessionPeriod(d time.Duration) SessionOption {
	return func(p *SessionProcessor) {
		if d > 0 {
			p.period = d
		}
	}
}

// WithExtendThreshold sets the remaining lifetime below which sessions are
// extended. Zero disables extension.
func WithExtendThreshold(d time.Duration) SessionOption {
	return func(p *SessionProcessor) {
		p.extendThreshold = d
	}
}

// NewSessionProcessor returns a SessionProcessor sealing tokens with keys.
func NewSessionProcessor(keyID string, keys map[string][]byte, opts ...SessionOption) (*SessionProcessor, error) {
	sealer, err := NewSealer(keyID, keys, nil)
	if err != nil {
		return nil, err
	}
	p := &SessionProcessor{
		sealer:          sealer,
		header:          DefaultTokenHeader,
		period:          DefaultSessionPeriod,
		extendThreshold: DefaultExtendThreshold,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// aad binds tokens to the header they travel in.
func (p *SessionProcessor) aad() []byte {
	return []byte("session:" + p.header)
}

func (p *SessionProcessor) seal(sd *sessionData) (string, error) {
	plain, err := cbor.Marshal(sd)
	if err != nil {
		return "", err
	}
	return p.sealer.Seal(plain, p.aad())
}

func (p *SessionProcessor) open(token string) (*sessionData, error) {
	plain, err := p.sealer.Open(token, p.aad())
	if err != nil {
		return nil, err
	}
	var sd sessionData
	if err := cbor.Unmarshal(plain, &sd); err != nil {
		return nil, ErrTokenFormat
	}
	return &sd, nil
}

// Process implements endpoint.Processor.
func (p *SessionProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	sess := &session{period: p.period}

	if token := r.Header.Get(p.header); token != "" {
		sd, err := p.open(token)
		if err == nil {
			ok, extended := sd.validate(p.extendThreshold, p.period)
			if ok {
				sess.data = sd
				sess.dirty = extended
			} else {
				sess.dirty = true
			}
		} else {
			sess.dirty = true
		}
	}

	endpoint.Defer(r.Context(), func(w http.ResponseWriter) {
		p.writeToken(w, sess)
	})

	return next(w, r.WithContext(WithSession(r.Context(), sess)))
}

func (p *SessionProcessor) writeToken(w http.ResponseWriter, sess *session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.dirty {
		return
	}
	if sess.data == nil || !time.Now().Before(sess.data.Expires) {
		w.Header().Set(p.header, "")
		return
	}
	token, err := p.seal(sess.data)
	if err != nil {
		return
	}
	w.Header().Set(p.header, token)
}

var _ endpoint.Processor = (*SessionProcessor)(nil)
var _ Session = (*session)(nil)
