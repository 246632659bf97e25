package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"inksprint/server/internal/metrics"
	"inksprint/server/internal/protocol"
	"inksprint/server/internal/secure"
)

// session is one live connection after a successful handshake. The read
// loop is the only reader; Send may be called from any goroutine and
// serializes frame writes itself.
type session struct {
	srv    *Server
	conn   net.Conn
	cipher *secure.Cipher
	log    *slog.Logger

	writeMu sync.Mutex

	// userID is set once by the read loop on successful login and read by
	// handlers on the same goroutine. Zero means unauthenticated.
	userID int64
}

// Send encrypts v as one frame and writes it. Implements registry.Sender.
func (c *session) Send(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	sealed, err := c.cipher.Seal(body)
	if err != nil {
		return fmt.Errorf("seal frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := secure.WriteFrame(c.conn, sealed); err != nil {
		return err
	}
	metrics.FramesSent.Inc()
	return nil
}

// Close tears down the socket. The read loop observes the closed socket
// and exits.
func (c *session) Close() error {
	return c.conn.Close()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	log := s.log.With("remote", remote)

	cipher, err := secure.ServerHandshake(conn, s.key, s.pubPEM)
	if err != nil {
		metrics.HandshakeFailures.Inc()
		log.Debug("handshake failed", "err", err)
		_ = conn.Close()
		return
	}

	c := &session{srv: s, conn: conn, cipher: cipher, log: log}
	log.Debug("session established")

	defer func() {
		if c.userID != 0 {
			s.reg.Detach(c.userID, c)
			metrics.SessionsOnline.Set(float64(s.reg.Count()))
		}
		_ = conn.Close()
		log.Debug("session closed", "user_id", c.userID)
	}()

	for {
		sealed, err := secure.ReadFrame(conn)
		if err != nil {
			return
		}
		body, err := cipher.Open(sealed)
		if err != nil {
			log.Warn("undecryptable frame, dropping connection", "err", err)
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(body, &req); err != nil {
			log.Warn("malformed request frame, dropping connection", "err", err)
			return
		}
		metrics.FramesReceived.WithLabelValues(req.Type).Inc()

		if err := s.dispatch(ctx, c, req); err != nil {
			// Handler errors are unexpected internal failures; the protocol
			// answer was already attempted, so keep the connection.
			log.Error("handler failed", "type", req.Type, "user_id", c.userID, "err", err)
		}
	}
}
