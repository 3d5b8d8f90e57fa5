// Copyright 2026 The Logfan Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dashboard serves recent records over HTTP for live inspection.
//
// It keeps a fixed-size ring of the most recent records, exposes them as a
// filterable JSON endpoint, streams new records over SSE, and publishes the
// engine's prometheus counters. All data endpoints sit behind a session
// login; credentials are checked against a bcrypt hash so the plaintext
// password never lives in process memory past construction.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"logfan.dev/logfan/bus"
	"logfan.dev/logfan/diag"
	"logfan.dev/logfan/plugin"
	"logfan.dev/logfan/record"
)

const (
	defaultRingSize   = 1000
	defaultSessionTTL = 12 * time.Hour
	sessionCookie     = "logfan_session"
)

// ErrNoCredentials is returned when the transport is built without a
// username or password.
var ErrNoCredentials = errors.New("dashboard transport: username and password are required")

// Transport is the HTTP dashboard plugin.
type Transport struct {
	name         string
	addr         string
	username     string
	passwordHash []byte
	ringSize     int
	sessionTTL   time.Duration

	mu    sync.RWMutex
	ring  []*record.Record
	next  int
	total int

	sessMu   sync.Mutex
	sessions map[string]time.Time

	subMu sync.Mutex
	subs  map[chan *record.Record]struct{}

	ln   net.Listener
	srv  *http.Server
	diag *diag.Channel
}

// Option configures the dashboard transport.
type Option func(*Transport)

// WithRingSize sets how many recent records are retained.
func WithRingSize(n int) Option {
	return func(t *Transport) { t.ringSize = n }
}

// WithSessionTTL sets how long a login session stays valid.
func WithSessionTTL(d time.Duration) Option {
	return func(t *Transport) { t.sessionTTL = d }
}

// New creates a dashboard listening on addr. The password is hashed
// immediately and the plaintext discarded.
func New(addr, username, password string, opts ...Option) (*Transport, error) {
	if username == "" || password == "" {
		return nil, ErrNoCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("dashboard transport: %w", err)
	}
	t := &Transport{
		name:         "dashboard",
		addr:         addr,
		username:     username,
		passwordHash: hash,
		ringSize:     defaultRingSize,
		sessionTTL:   defaultSessionTTL,
		sessions:     make(map[string]time.Time),
		subs:         make(map[chan *record.Record]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.ring = make([]*record.Record, t.ringSize)
	return t, nil
}

// Name implements [plugin.Plugin].
func (t *Transport) Name() string { return t.name }

// Kind implements [plugin.Plugin].
func (t *Transport) Kind() plugin.Kind { return plugin.KindTransport }

// Init implements [plugin.Plugin]. Binding the listener here makes an
// unavailable port an engine startup failure instead of a background
// surprise.
func (t *Transport) Init(core plugin.Core) error {
	t.diag = core.Diag()

	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("dashboard transport: listen %s: %w", t.addr, err)
	}
	t.ln = ln

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	})
	r.Post("/login", t.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(t.requireSession)
		r.Post("/logout", t.handleLogout)
		r.Get("/api/records", t.handleRecords)
		r.Get("/api/stream", t.handleStream)
		r.Handle("/metrics", core.Metrics().Handler())
	})

	t.srv = &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := t.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.diag.Error(t.name, "server stopped", map[string]any{"error": err.Error()})
		}
	}()

	core.On(bus.Ingest, t.store)
	return nil
}

// Addr returns the bound listen address.
func (t *Transport) Addr() string {
	if t.ln == nil {
		return t.addr
	}
	return t.ln.Addr().String()
}

func (t *Transport) store(rec *record.Record) {
	t.mu.Lock()
	t.ring[t.next] = rec
	t.next = (t.next + 1) % t.ringSize
	t.total++
	t.mu.Unlock()

	t.subMu.Lock()
	for ch := range t.subs {
		select {
		case ch <- rec:
		default:
			// A stalled stream client loses records rather than stalling
			// the dispatch path.
		}
	}
	t.subMu.Unlock()
}

// recent returns retained records oldest-first, filtered by minimum level.
func (t *Transport) recent(min record.Level, limit int) []*record.Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.total
	if n > t.ringSize {
		n = t.ringSize
	}
	out := make([]*record.Record, 0, n)
	start := (t.next - n + t.ringSize) % t.ringSize
	for i := 0; i < n; i++ {
		rec := t.ring[(start+i)%t.ringSize]
		if rec != nil && rec.Level >= min {
			out = append(out, rec)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (t *Transport) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "malformed credentials", http.StatusBadRequest)
		return
	}
	if creds.Username != t.username ||
		bcrypt.CompareHashAndPassword(t.passwordHash, []byte(creds.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	id := uuid.NewString()
	t.sessMu.Lock()
	t.sessions[id] = time.Now().Add(t.sessionTTL)
	t.sessMu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(t.sessionTTL),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (t *Transport) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		t.sessMu.Lock()
		delete(t.sessions, c.Value)
		t.sessMu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (t *Transport) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookie)
		if err != nil {
			http.Error(w, "login required", http.StatusUnauthorized)
			return
		}
		t.sessMu.Lock()
		expiry, ok := t.sessions[c.Value]
		if ok && time.Now().After(expiry) {
			delete(t.sessions, c.Value)
			ok = false
		}
		t.sessMu.Unlock()
		if !ok {
			http.Error(w, "login required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Transport) handleRecords(w http.ResponseWriter, r *http.Request) {
	min := record.LevelDebug
	if s := r.URL.Query().Get("level"); s != "" {
		parsed, err := record.ParseLevel(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		min = parsed
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		fmt.Sscanf(s, "%d", &limit) //nolint:errcheck
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(t.recent(min, limit)) //nolint:errcheck
}

// handleStream sends each new record as an SSE "record" event.
func (t *Transport) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan *record.Record, 64)
	t.subMu.Lock()
	t.subs[ch] = struct{}{}
	t.subMu.Unlock()
	defer func() {
		t.subMu.Lock()
		delete(t.subs, ch)
		t.subMu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case rec := <-ch:
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: record\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// Shutdown implements [plugin.Shutdowner].
func (t *Transport) Shutdown(ctx context.Context) error {
	if t.srv == nil {
		return nil
	}
	return t.srv.Shutdown(ctx)
}

var (
	_ plugin.Plugin     = (*Transport)(nil)
	_ plugin.Shutdowner = (*Transport)(nil)
)
