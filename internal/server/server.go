// Package server runs the encrypted session protocol: it accepts TCP
// connections, performs the key exchange, and drives the per-connection
// request loop against the store and the session registry.
package server

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"inksprint/server/internal/blob"
	"inksprint/server/internal/mail"
	"inksprint/server/internal/registry"
	"inksprint/server/internal/secure"
	"inksprint/server/internal/store"
)

// Deps collects the collaborators a Server needs.
type Deps struct {
	Store    *store.Store
	Registry *registry.Registry
	Codes    *registry.Codes
	Avatars  *blob.Avatars
	Mail     mail.Sender // nil disables send_code
	Log      *slog.Logger
}

// Server owns the listener-side of the session protocol.
type Server struct {
	st      *store.Store
	reg     *registry.Registry
	codes   *registry.Codes
	avatars *blob.Avatars
	mail    mail.Sender
	log     *slog.Logger
	now     func() time.Time

	key    *rsa.PrivateKey
	pubPEM []byte

	handlers map[string]handlerFunc
}

// New generates the process RSA keypair and wires the dispatch table.
func New(d Deps) (*Server, error) {
	if d.Store == nil || d.Registry == nil || d.Codes == nil || d.Avatars == nil {
		return nil, fmt.Errorf("store, registry, codes, and avatars are required")
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}

	key, err := secure.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	pubPEM, err := secure.MarshalPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	s := &Server{
		st:      d.Store,
		reg:     d.Registry,
		codes:   d.Codes,
		avatars: d.Avatars,
		mail:    d.Mail,
		log:     d.Log,
		now:     time.Now,
		key:     key,
		pubPEM:  pubPEM,
	}
	s.handlers = s.dispatchTable()
	return s, nil
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. Each connection
// gets its own goroutine; the accept loop never blocks on a client.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("session server listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", "err", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}
