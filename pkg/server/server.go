// Package server is a small reference Wired server: it accepts P7
// channels, runs the client-info and login exchange, pings clients and
// serves the public chat.
package server

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aeolun/wired/pkg/crypto"
	"github.com/aeolun/wired/pkg/spec"
	"github.com/aeolun/wired/pkg/wire"
)

// GuestLogin is the login accepted without an account when guests are allowed.
const GuestLogin = "guest"

// Server represents the Wired server
type Server struct {
	config    ServerConfig
	catalog   *spec.Catalog
	rsaKey    *rsa.PrivateKey
	log       zerolog.Logger
	sessions  *SessionManager
	metrics   *Metrics
	startTime time.Time

	listener   net.Listener
	httpLn     net.Listener
	httpServer *http.Server

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex // guards closing and wg.Add
	closing bool
	wg      sync.WaitGroup

	pingSeq atomic.Uint32
}

// NewServer creates a new server instance. key may be nil when rsa_aes256 is
// not among the accepted ciphers.
func NewServer(config ServerConfig, catalog *spec.Catalog, key *rsa.PrivateKey) (*Server, error) {
	if catalog == nil {
		return nil, errors.New("server: nil catalog")
	}
	if key == nil && slices.Contains(config.Ciphers, crypto.CipherRSAAES256) {
		return nil, errors.New("server: rsa_aes256 accepted without a server key")
	}

	metrics := NewMetrics()
	sessions := NewSessionManager()
	sessions.SetMetrics(metrics)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:    config,
		catalog:   catalog,
		rsaKey:    key,
		log:       zerolog.Nop(),
		sessions:  sessions,
		metrics:   metrics,
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// SetLogger replaces the server's logger.
func (s *Server) SetLogger(logger zerolog.Logger) {
	s.log = logger
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Start listens on the P7 address and, if configured, the HTTP address.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.listener = listener
	s.log.Info().Str("address", listener.Addr().String()).Msg("listening")

	if s.config.HTTPAddress != "" {
		httpLn, err := net.Listen("tcp", s.config.HTTPAddress)
		if err != nil {
			listener.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.config.HTTPAddress, err)
		}
		s.httpLn = httpLn
		s.httpServer = &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
		s.log.Info().Str("address", httpLn.Addr().String()).Msg("http listening (/health, /metrics, /ws)")

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	if s.config.PingInterval > 0 {
		s.wg.Add(1)
		go s.pingLoop()
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the P7 listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HTTPAddr returns the HTTP listener address, or nil if disabled.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

// Stop closes the listeners, disconnects every client and waits for all
// connection goroutines to return.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	s.log.Info().Msg("shutting down")
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.httpServer.Shutdown(ctx)
		cancel()
	}

	s.sessions.CloseAll()
	s.wg.Wait()
	s.log.Info().Msg("shutdown complete")
	return nil
}

// track registers a connection goroutine unless the server is stopping.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.log.Error().Err(err).Msg("accept failed")
			return
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}
		if !s.track() {
			conn.Close()
			return
		}
		go func() {
			defer s.wg.Done()
			s.serve(conn)
		}()
	}
}

// ServeConn runs the handshake and message loop on conn until the client
// disconnects or the server stops. It is used for transports accepted
// outside the P7 listener, such as websockets.
func (s *Server) ServeConn(conn net.Conn) {
	if !s.track() {
		conn.Close()
		return
	}
	defer s.wg.Done()
	s.serve(conn)
}

func (s *Server) serve(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	ch, err := wire.Accept(s.ctx, conn, s.catalog, s.policy())
	if err != nil {
		s.metrics.RecordHandshakeFailure()
		s.log.Debug().Err(err).Str("remote", remote).Msg("handshake failed")
		return
	}

	sess := s.sessions.CreateSession(ch)
	sess.lastPing.Store(time.Now().UnixNano())
	s.log.Info().
		Uint32("session", sess.ID).
		Str("remote", remote).
		Str("login", ch.Username()).
		Str("client", ch.RemoteName()+" "+ch.RemoteVersion()).
		Str("cipher", ch.Cipher().String()).
		Str("compression", ch.Compression().String()).
		Str("checksum", ch.Checksum().String()).
		Msg("client connected")

	s.messageLoop(sess)

	if s.sessions.RemoveSession(sess.ID) {
		s.log.Info().Uint32("session", sess.ID).Str("nick", sess.Nick()).Msg("client disconnected")
	}
}

func (s *Server) policy() wire.ServerPolicy {
	logger := s.log
	return wire.ServerPolicy{
		Ciphers:      s.config.Ciphers,
		Compressions: s.config.Compressions,
		Checksums:    s.config.Checksums,
		RSAKey:       s.rsaKey,
		Passwords:    wire.PasswordFunc(s.passwordDigest),
		Timeout:      s.config.HandshakeTimeout,
		Logger:       &logger,
	}
}

// account resolves a login to its configured account, or the guest account.
func (s *Server) account(login string) (Account, bool) {
	for _, a := range s.config.Accounts {
		if a.Login == login {
			return a, true
		}
	}
	if s.config.AllowGuest && login == GuestLogin {
		return Account{Login: GuestLogin, Privileges: s.config.GuestPrivileges}, true
	}
	return Account{}, false
}

func (s *Server) passwordDigest(login string) (string, bool) {
	a, ok := s.account(login)
	if !ok {
		return "", false
	}
	return crypto.PasswordDigest(a.Password), true
}

// messageLoop handles messages for an established session
func (s *Server) messageLoop(sess *Session) {
	for {
		m, err := sess.Channel.ReadMessage()
		if err != nil {
			var specErr *spec.Error
			if errors.As(err, &specErr) {
				s.log.Debug().Err(err).Uint32("session", sess.ID).Msg("unknown message")
				if err := s.sendError(sess, nil, errUnrecognizedMessage); err != nil {
					return
				}
				continue
			}
			if s.ctx.Err() == nil {
				s.log.Debug().Err(err).Uint32("session", sess.ID).Msg("read failed")
			}
			return
		}

		s.metrics.RecordMessageReceived(m.Name())
		if err := s.handleMessage(sess, m); err != nil {
			s.log.Debug().Err(err).Uint32("session", sess.ID).Str("message", m.Name()).Msg("write failed")
			return
		}
	}
}

// pingLoop sends wired.send_ping to every session and drops sessions that
// stopped answering.
func (s *Server) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()
	deadline := 3 * s.config.PingInterval

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		for _, sess := range s.sessions.GetAllSessions() {
			if now.Sub(sess.LastPing()) > deadline {
				s.log.Info().Uint32("session", sess.ID).Msg("ping timeout")
				s.sessions.RemoveSession(sess.ID)
				continue
			}
			if err := s.sendPing(sess); err != nil {
				s.sessions.RemoveSession(sess.ID)
			}
		}
	}
}
