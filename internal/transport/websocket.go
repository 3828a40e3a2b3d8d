package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/riftmq/broker/internal/broker"
	"github.com/riftmq/broker/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketServer is the optional second listener of spec.md §4.11: each
// accepted connection is adapted to the same frameChannel via wsConn, so
// the director and packet codec never branch on transport kind.
type WebSocketServer struct {
	addr     string
	path     string
	director *broker.Director
	log      *logger.Logger

	server   *http.Server
	shutdown atomic.Bool
}

// NewWebSocketServer constructs a WebSocketServer bound to addr, serving
// the MQTT upgrade at path.
func NewWebSocketServer(addr, path string, director *broker.Director, log *logger.Logger) *WebSocketServer {
	if path == "" {
		path = "/mqtt"
	}
	return &WebSocketServer{addr: addr, path: path, director: director, log: log}
}

// Start opens the listener and begins serving upgrade requests.
func (s *WebSocketServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleUpgrade)
	s.server = &http.Server{Addr: s.addr, Handler: mux}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !s.shutdown.Load() {
			s.log.Error("websocket serve", logger.ErrorAttr(err))
		}
	}()
	return nil
}

// Stop closes the HTTP server and its listener.
func (s *WebSocketServer) Stop() error {
	s.shutdown.Store(true)
	if s.server == nil {
		return nil
	}
	return s.server.Close()
}

func (s *WebSocketServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade", logger.ErrorAttr(err))
		return
	}
	ws := &wsConn{ws: conn}
	channel := newFrameChannel(ws)
	serveChannel(channel, bufio.NewReader(ws), s.director, s.log)
}

// wsConn adapts a *websocket.Conn's message framing to a plain byte
// stream: Read drains the current message reader before requesting the
// next one, so the shared fixed-header read loop in readloop.go works
// unmodified over WebSocket transport (spec.md §4.11's "io.Reader/
// io.Writer over message frames").
type wsConn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	reader io.Reader
}

func (w *wsConn) Read(p []byte) (int, error) {
	for {
		if w.reader == nil {
			_, r, err := w.ws.NextReader()
			if err != nil {
				return 0, err
			}
			w.reader = r
		}
		n, err := w.reader.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF {
			w.reader = nil
			continue
		}
		if err != nil {
			return 0, err
		}
	}
}

func (w *wsConn) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) Close() error { return w.ws.Close() }

func (w *wsConn) RemoteAddr() net.Addr { return w.ws.RemoteAddr() }
