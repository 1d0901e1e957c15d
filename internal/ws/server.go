// Package ws implements the live-reload websocket server. It listens on a
// bare socket and coexists with whatever static file server the user runs; it
// serves exactly one thing: upgrade requests from the injected client code.
package ws

import (
	stderrors "errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/elmwatch/errors"
	"github.com/grovetools/elmwatch/logging"
)

// PortChoice says how to pick the listen port, in order of preference:
// a persisted port from the state file, a port from elm-watch.json, or an
// OS-assigned ephemeral port.
type PortChoice interface{ isPortChoice() }

// PersistedPort is a port remembered from a previous run.
type PersistedPort int

// PortFromConfig is a port fixed in elm-watch.json.
type PortFromConfig int

// NoPort lets the OS pick.
type NoPort struct{}

func (PersistedPort) isPortChoice()  {}
func (PortFromConfig) isPortChoice() {}
func (NoPort) isPortChoice()         {}

// Event is an inbound websocket occurrence, queued until a dispatcher is
// attached.
type Event interface{ isEvent() }

// ClientConnected fires once per accepted connection, carrying the raw
// connect URL for the orchestrator to validate.
type ClientConnected struct {
	Date time.Time
	Conn *Conn
	URL  string
}

// MessageReceived fires per inbound frame. Binary frames are flagged; the
// protocol is JSON text only.
type MessageReceived struct {
	Conn   *Conn
	Data   []byte
	Binary bool
}

// ClientClosed fires when a connection goes away for any reason.
type ClientClosed struct {
	Conn *Conn
}

func (ClientConnected) isEvent() {}
func (MessageReceived) isEvent() {}
func (ClientClosed) isEvent()    {}

// Conn is one browser connection. Writes are serialized.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// Send writes one text frame. Write errors surface as a later ClientClosed.
func (c *Conn) Send(data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteMessage(websocket.TextMessage, data)
}

// Server accepts browser connections and funnels their events to a
// detachable dispatcher.
type Server struct {
	listener net.Listener
	http     *http.Server
	upgrader websocket.Upgrader
	logger   *logrus.Entry
	now      func() time.Time

	mu       sync.Mutex
	dispatch func(Event)
	queue    []Event
	closed   bool
}

// NewServer binds the listener according to choice. Bind failure with
// address-in-use degrades PersistedPort silently to an ephemeral port,
// is fatal for PortFromConfig, and surfaces the raw error for NoPort.
func NewServer(choice PortChoice, now func() time.Time) (*Server, *errors.WatchError) {
	if now == nil {
		now = time.Now
	}

	listener, werr := listen(choice)
	if werr != nil {
		return nil, werr
	}

	s := &Server{
		listener: listener,
		logger:   logging.NewLogger("websocket"),
		now:      now,
		upgrader: websocket.Upgrader{
			// The client page may be served from any origin; the URL token
			// check is the actual handshake.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	s.http = &http.Server{Handler: http.HandlerFunc(s.handleUpgrade)}
	go func() {
		if err := s.http.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Debug("websocket server stopped")
		}
	}()

	s.logger.WithField("port", s.Port()).Debug("websocket server listening")
	return s, nil
}

func listen(choice PortChoice) (net.Listener, *errors.WatchError) {
	addr := func(port int) string { return net.JoinHostPort("127.0.0.1", strconv.Itoa(port)) }

	switch c := choice.(type) {
	case PersistedPort:
		listener, err := net.Listen("tcp", addr(int(c)))
		if err == nil {
			return listener, nil
		}
		if !isAddrInUse(err) {
			return nil, errors.Wrap(err, errors.ErrCodePortConflict, "failed to bind the websocket port").WithDetail("port", int(c))
		}
		// Someone else grabbed the remembered port; fall back silently.
		return listen(NoPort{})

	case PortFromConfig:
		listener, err := net.Listen("tcp", addr(int(c)))
		if err == nil {
			return listener, nil
		}
		if isAddrInUse(err) {
			return nil, errors.PortConflict(int(c))
		}
		return nil, errors.Wrap(err, errors.ErrCodePortConflict, "failed to bind the configured websocket port").WithDetail("port", int(c))

	default:
		listener, err := net.Listen("tcp", addr(0))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodePortConflict, "failed to bind a websocket port")
		}
		return listener, nil
	}
}

func isAddrInUse(err error) bool {
	return stderrors.Is(err, syscall.EADDRINUSE)
}

// Port returns the bound port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// SetDispatch installs the dispatcher and drains queued events in order.
func (s *Server) SetDispatch(dispatch func(Event)) {
	s.mu.Lock()
	queued := s.queue
	s.queue = nil
	s.dispatch = dispatch
	s.mu.Unlock()

	for _, event := range queued {
		dispatch(event)
	}
}

// UnsetDispatch detaches the dispatcher; events queue again. Used across a
// restart so in-flight events are not lost.
func (s *Server) UnsetDispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatch = nil
}

// Close shuts the server down. Queued events are discarded.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	return s.http.Close()
}

func (s *Server) emit(event Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	dispatch := s.dispatch
	if dispatch == nil {
		s.queue = append(s.queue, event)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	dispatch(event)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("upgrade failed")
		return
	}

	conn := &Conn{ws: wsConn}
	s.emit(ClientConnected{Date: s.now(), Conn: conn, URL: r.URL.String()})

	go s.readPump(conn)
}

func (s *Server) readPump(conn *Conn) {
	defer func() {
		_ = conn.ws.Close()
		s.emit(ClientClosed{Conn: conn})
	}()

	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		s.emit(MessageReceived{
			Conn:   conn,
			Data:   data,
			Binary: messageType == websocket.BinaryMessage,
		})
	}
}
