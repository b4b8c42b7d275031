// Package realtime holds the upstream WebSocket plumbing shared by the
// provider adapters: dialing, serialized writes, the read loop and the
// handler dispatcher.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the upstream
	writeWait = 10 * time.Second

	// Time allowed for the upstream WebSocket handshake
	handshakeTimeout = 15 * time.Second

	// Upstream messages carry base64 audio and can be large
	maxMessageSize = 4 * 1024 * 1024
)

var (
	// ErrSetupTimeout is returned when the upstream never acknowledges setup
	ErrSetupTimeout = errors.New("provider setup timed out")

	// ErrUpstreamClosed is reported when the upstream closes a connection we did not close
	ErrUpstreamClosed = errors.New("upstream connection closed")
)

// Socket is one upstream WebSocket connection with its event handlers
type Socket struct {
	Dispatcher

	conn   *websocket.Conn
	logger *zap.Logger

	writeMu   sync.Mutex
	closing   atomic.Bool
	dead      atomic.Bool
	listening atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens an upstream WebSocket
func Dial(ctx context.Context, url string, header http.Header, logger *zap.Logger) (*Socket, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial upstream: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial upstream: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	return &Socket{
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// WriteJSON writes one message, serialized with other writers
func (s *Socket) WriteJSON(v any) error {
	if s.closing.Load() || s.dead.Load() {
		return ErrUpstreamClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// Send writes without returning an error; failures go to the error handler.
// Nothing is sent or reported once the connection is closed.
func (s *Socket) Send(v any) {
	if err := s.WriteJSON(v); err != nil {
		if s.closing.Load() || s.dead.Load() {
			return
		}
		s.logger.Warn("Failed to write to upstream", zap.Error(err))
		// The caller may be the consumer of the error handler
		go s.EmitError(err)
	}
}

// ReadUntil reads messages synchronously until accept returns true or the
// deadline passes. It must only be used before Listen.
func (s *Socket) ReadUntil(deadline time.Time, accept func(data []byte) bool) error {
	s.conn.SetReadDeadline(deadline)
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return ErrSetupTimeout
			}
			return fmt.Errorf("read upstream: %w", err)
		}
		if accept(data) {
			return nil
		}
	}
}

// Listen starts the read loop. Every message is passed to handle on the
// loop goroutine, in order.
func (s *Socket) Listen(handle func(data []byte)) {
	s.listening.Store(true)
	go func() {
		defer close(s.done)
		for {
			_, data, err := s.conn.ReadMessage()
			if err != nil {
				// Writes stop before the loss is reported
				s.dead.Store(true)
				if !s.closing.Load() {
					s.logger.Info("Upstream closed the connection", zap.Error(err))
					s.EmitError(ErrUpstreamClosed)
				}
				return
			}
			handle(data)
		}
	}()
}

// Disconnect closes the upstream. It is idempotent; once it returns no
// handler fires.
func (s *Socket) Disconnect(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.Dispatcher.Close()

		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.writeMu.Unlock()

		err = s.conn.Close()
		if !s.listening.Load() {
			return
		}

		select {
		case <-s.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

// Close releases the socket after a failed setup
func (s *Socket) Close() {
	s.closing.Store(true)
	s.conn.Close()
}
