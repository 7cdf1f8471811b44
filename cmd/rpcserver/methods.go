package main

import (
	"context"
	"sync"
	"time"

	"github.com/Deniallugo/jsonrpc-v2/auth"
	"github.com/Deniallugo/jsonrpc-v2/jsonrpc"
	"github.com/Deniallugo/jsonrpc-v2/middleware"
)

// maxInbox bounds the messages kept per recipient; older ones are dropped.
const maxInbox = 100

type Message struct {
	From   string    `json:"from"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// board holds messages between users, keyed by recipient.
type board struct {
	mu    sync.RWMutex
	inbox map[string][]Message
}

func newBoard() *board {
	return &board{inbox: make(map[string][]Message)}
}

func (b *board) send(to string, m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := append(b.inbox[to], m)
	if len(msgs) > maxInbox {
		msgs = msgs[len(msgs)-maxInbox:]
	}
	b.inbox[to] = msgs
}

func (b *board) list(user string) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Message{}, b.inbox[user]...)
}

var (
	errNoSession = jsonrpc.NewError(jsonrpc.CodeServerError, "Sessions are not enabled")
	errNotLogged = jsonrpc.NewError(auth.CodeUnauthorized, "Not logged in")
)

// caller returns the authenticated user: the bearer principal if present,
// otherwise the session subject.
func caller(ctx context.Context) (string, bool) {
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		return p.StableID, true
	}
	if sess, ok := middleware.SessionFromContext(ctx); ok {
		return sess.Subject()
	}
	return "", false
}

type Whoami struct {
	User      string     `json:"user,omitempty"`
	Email     string     `json:"email,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Expires   *time.Time `json:"expires,omitempty"`
}

func whoami(ctx context.Context, _ struct{}) (Whoami, error) {
	var w Whoami
	w.User, _ = caller(ctx)
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		w.Email = p.Email
	}
	w.RequestID, _ = middleware.RequestIDFromContext(ctx)
	if sess, ok := middleware.SessionFromContext(ctx); ok && sess.ID() != "" {
		w.SessionID = sess.ID()
		exp := sess.Expires()
		w.Expires = &exp
	}
	return w, nil
}

type LoginParams struct {
	Username string `json:"username,omitempty"`
}

// login starts a session for the bearer principal or, without one, for the
// given username.
func login(ctx context.Context, p LoginParams) (Whoami, error) {
	sess, ok := middleware.SessionFromContext(ctx)
	if !ok {
		return Whoami{}, errNoSession
	}
	user := p.Username
	if pr, ok := auth.PrincipalFromContext(ctx); ok {
		user = pr.StableID
	}
	if user == "" {
		return Whoami{}, jsonrpc.InvalidParams("username required")
	}
	if err := sess.Login(user); err != nil {
		return Whoami{}, err
	}
	return whoami(ctx, struct{}{})
}

type OK struct {
	OK bool `json:"ok"`
}

func logout(ctx context.Context, _ struct{}) (OK, error) {
	sess, ok := middleware.SessionFromContext(ctx)
	if !ok {
		return OK{}, errNoSession
	}
	sess.Logout()
	return OK{OK: true}, nil
}

type SendParams struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func sendMessage(ctx context.Context, p SendParams) (OK, error) {
	from, ok := caller(ctx)
	if !ok {
		return OK{}, errNotLogged
	}
	if p.To == "" || p.Text == "" {
		return OK{}, jsonrpc.InvalidParams("to and text are required")
	}
	jsonrpc.MustData[*board](ctx).send(p.To, Message{From: from, Text: p.Text, SentAt: time.Now().UTC()})
	return OK{OK: true}, nil
}

func listMessages(ctx context.Context, _ struct{}) ([]Message, error) {
	user, ok := caller(ctx)
	if !ok {
		return nil, errNotLogged
	}
	return jsonrpc.MustData[*board](ctx).list(user), nil
}

func ping(context.Context, struct{}) (string, error) {
	return "pong", nil
}

func echo(_ context.Context, params jsonrpc.Params) (any, error) {
	if params.IsAbsent() {
		return nil, nil
	}
	return params.Raw(), nil
}

func registerMethods(b *jsonrpc.Builder) error {
	methods := []struct {
		name string
		h    jsonrpc.Handler
	}{
		{"system.ping", jsonrpc.Method(ping)},
		{"system.echo", jsonrpc.HandlerFunc(echo)},
		{"system.whoami", jsonrpc.Method(whoami)},
		{"session.login", jsonrpc.Method(login)},
		{"session.logout", jsonrpc.Method(logout)},
		{"messages.send", jsonrpc.Method(sendMessage)},
		{"messages.list", jsonrpc.Method(listMessages)},
	}
	for _, m := range methods {
		if err := b.Register(m.name, m.h); err != nil {
			return err
		}
	}
	return nil
}
