package web

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vilaca/gh-finder/internal/history"
	"github.com/vilaca/gh-finder/internal/metrics"
	"github.com/vilaca/gh-finder/internal/search"
)

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 30 * time.Minute

// ErrSessionsClosed is returned by Create after Close.
var ErrSessionsClosed = errors.New("session manager closed")

// ControllerFactory builds the search controller for a new session.
// report receives user-visible error messages.
type ControllerFactory func(ctx context.Context, sessionID string, report func(message string)) (*search.Controller, error)

// Session is one browser's search state.
type Session struct {
	ID         string
	Controller *search.Controller

	mu       sync.Mutex
	lastSeen time.Time
	conns    int
	toasts   map[int]func(string)
	nextID   int
}

// Toast delivers message to every connected socket.
func (s *Session) Toast(message string) {
	s.mu.Lock()
	subscribers := make([]func(string), 0, len(s.toasts))
	for _, fn := range s.toasts {
		subscribers = append(subscribers, fn)
	}
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(message)
	}
}

// OnToast registers fn for toast messages and returns a func removing it.
func (s *Session) OnToast(fn func(string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.toasts[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.toasts, id)
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// attach marks a live connection; the session is not swept while attached.
func (s *Session) attach(now time.Time) func() {
	s.mu.Lock()
	s.conns++
	s.lastSeen = now
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.conns--
			s.mu.Unlock()
		})
	}
}

func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns == 0 && s.lastSeen.Before(cutoff)
}

// SessionManager owns the live sessions and sweeps idle ones.
type SessionManager struct {
	factory ControllerFactory
	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	done     chan struct{}
}

// SessionConfig configures a SessionManager.
type SessionConfig struct {
	Factory ControllerFactory
	TTL     time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewSessionManager creates a SessionManager. Call Run to start sweeping.
func NewSessionManager(cfg SessionConfig) *SessionManager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SessionManager{
		factory:  cfg.Factory,
		ttl:      cfg.TTL,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
}

// Get returns the session for id and marks it as seen.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()

	if ok {
		s.touch(m.now())
	}
	return s, ok
}

// Create starts a session. An empty id gets a fresh one; a known id from a
// returning browser is reused, so its recent list is loaded from the store
// again. If a live session already has id, that session is returned.
func (m *SessionManager) Create(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		ID:       id,
		lastSeen: m.now(),
		toasts:   make(map[int]func(string)),
	}

	controller, err := m.factory(ctx, s.ID, s.Toast)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.Controller = controller

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		controller.Close()
		return nil, ErrSessionsClosed
	}
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		controller.Close()
		existing.touch(m.now())
		return existing, nil
	}
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.metrics.SessionOpened()
	m.logger.Debug("session created", zap.String("session", s.ID))
	return s, nil
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the TTL and returns how many
// were removed.
func (m *SessionManager) Sweep() int {
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.idleSince(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Controller.Close()
		m.metrics.SessionClosed()
	}
	if len(expired) > 0 {
		m.logger.Info("swept idle sessions", zap.Int("removed", len(expired)))
	}
	return len(expired)
}

// Run sweeps every interval until Close is called.
func (m *SessionManager) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.done:
			return
		}
	}
}

// Close stops the sweeper and closes every session.
func (m *SessionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Controller.Close()
		m.metrics.SessionClosed()
	}
}

// ControllerConfig describes how session controllers are built.
type ControllerConfig struct {
	Directory search.Directory
	Store     history.Store
	// Key is the store key for the recent list inside the session namespace.
	Key      string
	Capacity int
	Logger   *zap.Logger
	Options  []search.Option
}

// NewControllerFactory returns a factory whose controllers keep their recent
// list under a per-session namespace of cfg.Store.
func NewControllerFactory(cfg ControllerConfig) ControllerFactory {
	return func(ctx context.Context, sessionID string, report func(string)) (*search.Controller, error) {
		recent, err := history.LoadRecent(ctx, history.RecentConfig{
			Store:    history.Namespace(cfg.Store, "session:"+sessionID+":"),
			Key:      cfg.Key,
			Capacity: cfg.Capacity,
			Logger:   cfg.Logger,
		})
		if err != nil {
			return nil, err
		}

		opts := append([]search.Option{}, cfg.Options...)
		opts = append(opts, search.WithErrorReporter(report))
		if cfg.Logger != nil {
			opts = append(opts, search.WithLogger(cfg.Logger.With(zap.String("session", sessionID))))
		}
		return search.New(cfg.Directory, recent, opts...), nil
	}
}
