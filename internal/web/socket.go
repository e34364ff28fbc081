package web

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vilaca/gh-finder/internal/search"
)

// Socket message types.
const (
	MessageInput    = "input"
	MessageSubmit   = "submit"
	MessageSelect   = "select"
	MessagePrefetch = "prefetch"
	MessageState    = "state"
	MessageToast    = "toast"
	MessageError    = "error"
)

// Selection sources.
const (
	SourceSuggestion = "suggestion"
	SourceHistory    = "history"
)

// SocketConfig holds websocket timing limits.
type SocketConfig struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

// DefaultSocketConfig returns the default websocket limits.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4096,
	}
}

type clientMessage struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Login  string `json:"login,omitempty"`
	Source string `json:"source,omitempty"`
}

type serverMessage struct {
	Type    string        `json:"type"`
	State   *search.State `json:"state,omitempty"`
	Message string        `json:"message,omitempty"`
}

// socket relays one browser connection to a session controller.
// Controller updates are coalesced: only the newest pending state is
// written, and states older than the last one written are dropped.
type socket struct {
	conn    *websocket.Conn
	session *Session
	config  SocketConfig
	logger  *zap.Logger

	mu      sync.Mutex
	pending *search.State
	outbox  []serverMessage
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSocket(conn *websocket.Conn, session *Session, config SocketConfig, logger *zap.Logger) *socket {
	return &socket{
		conn:    conn,
		session: session,
		config:  config,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// serve runs until the connection closes.
func (s *socket) serve(now func() time.Time) {
	detach := s.session.attach(now())
	defer detach()

	unsubscribe := s.session.Controller.Subscribe(s.pushState)
	defer unsubscribe()
	stopToasts := s.session.OnToast(s.pushToast)
	defer stopToasts()

	initial := s.session.Controller.Snapshot()
	s.pushState(initial)

	go s.writePump()
	s.readPump(now)
	s.close()
}

func (s *socket) pushState(state search.State) {
	s.mu.Lock()
	if s.pending == nil || state.Version > s.pending.Version {
		s.pending = &state
	}
	s.mu.Unlock()
	s.signal()
}

func (s *socket) pushToast(message string) {
	s.enqueue(serverMessage{Type: MessageToast, Message: message})
}

func (s *socket) enqueue(msg serverMessage) {
	s.mu.Lock()
	s.outbox = append(s.outbox, msg)
	s.mu.Unlock()
	s.signal()
}

func (s *socket) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *socket) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *socket) readPump(now func() time.Time) {
	s.conn.SetReadLimit(s.config.MaxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(s.config.PongWait)); err != nil {
		s.logger.Error("failed to set read deadline", zap.Error(err))
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", zap.String("session", s.session.ID), zap.Error(err))
			}
			return
		}
		s.session.touch(now())
		s.handle(data)
	}
}

func (s *socket) handle(data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debug("invalid socket message", zap.String("session", s.session.ID), zap.Error(err))
		s.pushError("invalid message format")
		return
	}

	ctrl := s.session.Controller
	switch msg.Type {
	case MessageInput:
		ctrl.SetInput(msg.Text)
	case MessageSubmit:
		ctrl.Submit()
	case MessageSelect:
		if msg.Source == SourceHistory {
			ctrl.SelectHistory(msg.Login)
		} else {
			ctrl.SelectSuggestion(msg.Login)
		}
	case MessagePrefetch:
		ctrl.Prefetch(msg.Login)
	default:
		s.pushError("unknown message type")
	}
}

// pushError reports a protocol problem to this connection only.
func (s *socket) pushError(message string) {
	s.enqueue(serverMessage{Type: MessageError, Message: message})
}

func (s *socket) writePump() {
	ticker := time.NewTicker(s.config.PingInterval)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	var written uint64
	for {
		select {
		case <-s.wake:
			s.mu.Lock()
			state := s.pending
			s.pending = nil
			outbox := s.outbox
			s.outbox = nil
			s.mu.Unlock()

			if state != nil && (written == 0 || state.Version > written) {
				written = state.Version
				if !s.write(serverMessage{Type: MessageState, State: state}) {
					return
				}
			}
			for _, msg := range outbox {
				if !s.write(msg) {
					return
				}
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			return
		}
	}
}

func (s *socket) write(msg serverMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to encode socket message", zap.Error(err))
		return true
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteWait)); err != nil {
		return false
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("websocket write error", zap.String("session", s.session.ID), zap.Error(err))
		return false
	}
	return true
}
