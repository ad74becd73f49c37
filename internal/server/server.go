package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"laminate/internal/common/logging"
)

// Server represents an HTTP server
type Server struct {
	srv      *http.Server
	tlsCert  string
	tlsKey   string
	listener net.Listener
	errCh    chan error
	logger   logging.Logger
}

// New creates a new server instance. The write timeout leaves room for the
// longest render a request may ask for.
func New(handler http.Handler, port, tlsCert, tlsKey string, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.ForComponent("server")
	}
	return &Server{
		srv: &http.Server{
			Addr:         ":" + port,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5*time.Minute + 30*time.Second,
			IdleTimeout:  120 * time.Second,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
		errCh:   make(chan error, 1),
		logger:  logger,
	}
}

// Start binds the port and serves in the background. Failures after the
// listener is up are delivered on Errors.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	useTLS := s.tlsCert != "" && s.tlsKey != ""
	if useTLS {
		s.srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	s.logger.Info("Server listening",
		logging.Field{Key: "addr", Value: ln.Addr().String()},
		logging.Field{Key: "tls", Value: useTLS},
	)

	go func() {
		var err error
		if useTLS {
			err = s.srv.ServeTLS(ln, s.tlsCert, s.tlsKey)
		} else {
			err = s.srv.Serve(ln)
		}
		if err != nil && err != http.ErrServerClosed {
			s.errCh <- err
		}
		close(s.errCh)
	}()
	return nil
}

// Addr is the bound address, available after Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.srv.Addr
	}
	return s.listener.Addr().String()
}

// Errors delivers a serve failure and is closed when serving stops
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
