package client

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aeolun/wired/pkg/crypto"
	"github.com/aeolun/wired/pkg/protocol"
	"github.com/aeolun/wired/pkg/spec"
	"github.com/aeolun/wired/pkg/wire"
)

const (
	// DefaultKeepaliveInterval is how often the time since the last server
	// ping is checked.
	DefaultKeepaliveInterval = 10 * time.Second

	// DefaultKeepaliveTimeout is the silence after which the session is
	// considered dead.
	DefaultKeepaliveTimeout = 65 * time.Second
)

const (
	msgOkay          = "wired.okay"
	msgError         = "wired.error"
	msgSendPing      = "wired.send_ping"
	msgPing          = "wired.ping"
	msgClientInfo    = "wired.client_info"
	msgServerInfo    = "wired.server_info"
	msgSetNick       = "wired.user.set_nick"
	msgSetStatus     = "wired.user.set_status"
	msgSetIcon       = "wired.user.set_icon"
	msgSendLogin     = "wired.send_login"
	msgLogin         = "wired.login"
	msgPrivileges    = "wired.account.privileges"
	fieldUserID      = "wired.user.id"
	fieldUserLogin   = "wired.user.login"
	fieldUserPass    = "wired.user.password"
	fieldUserNick    = "wired.user.nick"
	fieldUserStatus  = "wired.user.status"
	fieldUserIcon    = "wired.user.icon"
	fieldAppName     = "wired.info.application.name"
	fieldAppVersion  = "wired.info.application.version"
	fieldAppBuild    = "wired.info.application.build"
	fieldOSName      = "wired.info.os.name"
	fieldOSVersion   = "wired.info.os.version"
	fieldArch        = "wired.info.arch"
	fieldSupportRsrc = "wired.info.supports_rsrc"
)

// SessionState is the lifecycle state of a Session.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateHandshaking
	StateAuthenticating
	StateConnected
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Identity is what the session announces about itself after the handshake.
type Identity struct {
	Nick        string
	Status      string
	Icon        []byte
	Application Application
}

// DefaultIdentity returns the identity used when none is configured.
func DefaultIdentity() Identity {
	return Identity{
		Nick:        "Wired Go",
		Application: Application{Name: "wired", Version: "1.0", Build: "1"},
	}
}

// Clock abstracts time for the keepalive check.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the part of *time.Ticker a Clock hands out.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker { return systemTicker{time.NewTicker(d)} }

type systemTicker struct{ t *time.Ticker }

func (t systemTicker) C() <-chan time.Time { return t.t.C }
func (t systemTicker) Stop()               { t.t.Stop() }

// Option configures a Session.
type Option func(*Session)

// WithDialer replaces the transport dialer, mostly for tests.
func WithDialer(dial DialFunc) Option {
	return func(s *Session) { s.dial = dial }
}

// WithClock replaces the clock used by the keepalive check.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithKeepalive sets the check interval and the silence timeout.
func WithKeepalive(interval, timeout time.Duration) Option {
	return func(s *Session) {
		s.keepaliveInterval = interval
		s.keepaliveTimeout = timeout
	}
}

// WithLogger sets the session logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithState enables server key pinning and connection history.
func WithState(st StateInterface) Option {
	return func(s *Session) { s.state = st }
}

// WithIdentity sets the nick, status, icon and application announced at login.
func WithIdentity(id Identity) Option {
	return func(s *Session) { s.identity = id }
}

// WithTransport sets the cipher, compression, checksum and timeouts of the
// channel. Username and Password are taken from the connection URL.
func WithTransport(opts wire.Options) Option {
	return func(s *Session) { s.transport = opts }
}

// WithStateHook registers fn to be called on every state transition. It runs
// under the session lock and must not call back into the Session.
func WithStateHook(fn func(SessionState)) Option {
	return func(s *Session) { s.stateHook = fn }
}

// link is one live connection of a Session.
type link struct {
	ch       ChannelInterface
	target   *URL
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once
	done     chan struct{}
	lastPing atomic.Int64
}

// Session is a client connection to a Wired server: it dials, negotiates the
// channel, logs in, answers pings, and routes incoming messages to
// observers and pending transactions.
type Session struct {
	catalog *spec.Catalog

	dial              DialFunc
	clock             Clock
	keepaliveInterval time.Duration
	keepaliveTimeout  time.Duration
	identity          Identity
	transport         wire.Options
	state             StateInterface
	log               zerolog.Logger
	stateHook         func(SessionState)

	observers observers
	tx        *transactionTable

	mu         sync.Mutex
	status     SessionState
	link       *link
	serverInfo *ServerInfo
	userID     *uint32
	privileges Privileges
}

// NewSession creates a disconnected session for catalog.
func NewSession(catalog *spec.Catalog, opts ...Option) *Session {
	s := &Session{
		catalog:           catalog,
		dial:              DefaultDial,
		clock:             systemClock{},
		keepaliveInterval: DefaultKeepaliveInterval,
		keepaliveTimeout:  DefaultKeepaliveTimeout,
		identity:          DefaultIdentity(),
		transport:         wire.DefaultOptions(),
		log:               zerolog.Nop(),
		tx:                newTransactionTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetLogger sets the session logger
func (s *Session) SetLogger(log zerolog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = log
}

// Catalog returns the catalog messages are built against.
func (s *Session) Catalog() *spec.Catalog { return s.catalog }

// Subscribe registers o. Registering the same observer twice is a no-op.
func (s *Session) Subscribe(o Observer) { s.observers.add(o) }

// Unsubscribe removes o. A message already being dispatched may still
// reach it.
func (s *Session) Unsubscribe(o Observer) { s.observers.remove(o) }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ServerInfo returns the server's wired.server_info, once received.
func (s *Session) ServerInfo() (ServerInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serverInfo == nil {
		return ServerInfo{}, false
	}
	return *s.serverInfo, true
}

// UserID returns the user ID assigned at login.
func (s *Session) UserID() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == nil {
		return 0, false
	}
	return *s.userID, true
}

// Privileges returns the account privileges granted at login, or nil.
func (s *Session) Privileges() Privileges {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.privileges == nil {
		return nil
	}
	p := make(Privileges, len(s.privileges))
	for k, v := range s.privileges {
		p[k] = v
	}
	return p
}

// BytesSent returns the bytes written on the current connection.
func (s *Session) BytesSent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return 0
	}
	return s.link.ch.BytesSent()
}

// BytesReceived returns the bytes read on the current connection.
func (s *Session) BytesReceived() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return 0
	}
	return s.link.ch.BytesReceived()
}

func (s *Session) setStateLocked(next SessionState) {
	if s.status == next {
		return
	}
	s.log.Debug().Str("from", s.status.String()).Str("to", next.String()).Msg("session state")
	s.status = next
	if s.stateHook != nil {
		s.stateHook(next)
	}
}

func (s *Session) setState(next SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(next)
}

// Connect dials target, negotiates the channel and logs in. It returns once
// the session is Connected or the attempt has failed; failures are the
// transport's own error types.
func (s *Session) Connect(ctx context.Context, target string) error {
	u, err := ParseURL(target)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.status != StateDisconnected {
		st := s.status
		s.mu.Unlock()
		return &SessionError{Kind: KindAlreadyConnected, State: st}
	}
	s.setStateLocked(StateConnecting)
	s.serverInfo, s.userID, s.privileges = nil, nil, nil
	s.mu.Unlock()

	s.log.Info().Str("target", u.String()).Msg("connecting")
	if err := s.connect(ctx, u); err != nil {
		s.setState(StateDisconnecting)
		s.setState(StateDisconnected)
		s.log.Warn().Err(err).Str("target", u.String()).Msg("connect failed")
		s.observers.each(func(o Observer) { o.OnConnectFailed(s, err) })
		return err
	}
	return nil
}

func (s *Session) connect(ctx context.Context, u *URL) error {
	opts := s.transport
	opts.Username = u.Login
	opts.Password = u.Password
	if opts.Logger == nil {
		log := s.log
		opts.Logger = &log
	}
	opts.Handshaking = func() { s.setState(StateHandshaking) }
	if s.state != nil && opts.VerifyServerKey == nil {
		address := u.Address()
		opts.VerifyServerKey = func(fingerprint string, _ []byte) error {
			return PinServerKey(s.state, address, fingerprint)
		}
	}

	ch, err := s.dial(ctx, u, s.catalog, opts)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { ch.Close() })
	info, userID, privileges, err := s.login(ch, u)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = &wire.IoError{Op: "login", Err: errors.Join(ctxErr, err)}
		}
		ch.Release()
		return err
	}

	l := &link{ch: ch, target: u, done: make(chan struct{})}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.lastPing.Store(s.clock.Now().UnixNano())

	s.mu.Lock()
	s.link = l
	s.serverInfo = &info
	s.userID = &userID
	s.privileges = privileges
	s.setStateLocked(StateConnected)
	s.mu.Unlock()

	if s.state != nil {
		if err := s.state.SaveSuccessfulConnection(u.Address()); err != nil {
			s.log.Warn().Err(err).Msg("failed to record connection")
		}
		if err := s.state.SetLastNickname(s.identity.Nick); err != nil {
			s.log.Warn().Err(err).Msg("failed to store nickname")
		}
	}
	s.log.Info().
		Str("server", info.Name).
		Uint32("user_id", userID).
		Msg("connected")

	// The read loop holds back until OnConnected has been delivered so
	// observers never see a message before the connection event.
	ready := make(chan struct{})
	l.wg.Add(2)
	go s.readLoop(l, ready)
	go s.keepaliveLoop(l)

	s.observers.each(func(o Observer) { o.OnConnected(s) })
	close(ready)
	return nil
}

// login runs the post-handshake sequence on ch.
func (s *Session) login(ch ChannelInterface, u *URL) (ServerInfo, uint32, Privileges, error) {
	var info ServerInfo
	id := s.identity

	err := s.request(ch, msgClientInfo,
		fieldAppName, id.Application.Name,
		fieldAppVersion, id.Application.Version,
		fieldAppBuild, id.Application.Build,
		fieldOSName, runtime.GOOS,
		fieldOSVersion, runtime.Version(),
		fieldArch, runtime.GOARCH,
		fieldSupportRsrc, false,
	)
	if err != nil {
		return info, 0, nil, err
	}
	m, err := s.await(ch, msgServerInfo)
	if err != nil {
		return info, 0, nil, err
	}
	info = ParseServerInfo(m)
	s.mu.Lock()
	s.serverInfo = &info
	s.setStateLocked(StateAuthenticating)
	s.mu.Unlock()

	icon := id.Icon
	if icon == nil {
		icon = []byte{}
	}
	steps := []struct {
		name  string
		field string
		value any
	}{
		{msgSetNick, fieldUserNick, id.Nick},
		{msgSetStatus, fieldUserStatus, id.Status},
		{msgSetIcon, fieldUserIcon, icon},
	}
	for _, step := range steps {
		if err := s.request(ch, step.name, step.field, step.value); err != nil {
			return info, 0, nil, err
		}
		m, err := s.await(ch, msgOkay)
		if err != nil {
			return info, 0, nil, err
		}
		if m.Name() == msgError {
			return info, 0, nil, &wire.ProtocolError{
				Kind:   wire.KindUnexpected,
				Detail: step.name + " refused",
				Err:    ServerErrorFromMessage(m),
			}
		}
	}

	err = s.request(ch, msgSendLogin,
		fieldUserLogin, u.Login,
		fieldUserPass, crypto.PasswordDigest(u.Password),
	)
	if err != nil {
		return info, 0, nil, err
	}
	m, err = s.await(ch, msgLogin)
	if err != nil {
		return info, 0, nil, err
	}
	if m.Name() == msgError {
		return info, 0, nil, &wire.ProtocolError{
			Kind:   wire.KindAuthenticationFailed,
			Detail: "login rejected",
			Err:    ServerErrorFromMessage(m),
		}
	}
	userID, _ := m.Uint32(fieldUserID)

	m, err = s.await(ch, msgPrivileges)
	if err != nil {
		return info, 0, nil, err
	}
	if m.Name() == msgError {
		return info, 0, nil, &wire.ProtocolError{
			Kind:   wire.KindAuthenticationFailed,
			Detail: "privileges refused",
			Err:    ServerErrorFromMessage(m),
		}
	}
	return info, userID, ParsePrivileges(m), nil
}

// request builds and writes a message from alternating field names and values.
func (s *Session) request(ch ChannelInterface, name string, fields ...any) error {
	m, err := buildMessage(s.catalog, name, fields...)
	if err != nil {
		return err
	}
	if err := ch.WriteMessage(m); err != nil {
		return err
	}
	s.observers.each(func(o Observer) { o.OnSent(s, m) })
	return nil
}

// await reads until want or wired.error arrives. Pings are answered and
// spec errors reported along the way; anything else is unexpected.
func (s *Session) await(ch ChannelInterface, want string) (*protocol.Message, error) {
	for {
		m, err := ch.ReadMessage()
		if err != nil {
			var specErr *spec.Error
			if errors.As(err, &specErr) {
				s.observers.each(func(o Observer) { o.OnSpecError(s, err) })
				continue
			}
			return nil, err
		}

		switch m.Name() {
		case want, msgError:
			return m, nil
		case msgSendPing:
			if err := s.replyPing(ch, m); err != nil {
				return nil, err
			}
		default:
			return nil, wire.NewProtocolError(wire.KindUnexpected, "expected %s, got %s", want, m.Name())
		}
	}
}

func (s *Session) replyPing(ch ChannelInterface, ping *protocol.Message) error {
	var fields []any
	if id, ok := ping.Uint32(fieldTransaction); ok {
		fields = append(fields, fieldTransaction, id)
	}
	return s.request(ch, msgPing, fields...)
}

func buildMessage(catalog *spec.Catalog, name string, fields ...any) (*protocol.Message, error) {
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("odd field list for %s", name)
	}
	m, err := protocol.NewMessage(catalog, name)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(fields); i += 2 {
		if err := m.Set(fields[i].(string), fields[i+1]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// connected returns the live link, or a NotConnected SessionError.
func (s *Session) connected() (*link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StateConnected || s.link == nil {
		return nil, &SessionError{Kind: KindNotConnected, State: s.status}
	}
	return s.link, nil
}

// Send writes m. It fails with a NotConnected SessionError, without I/O,
// unless the session is Connected.
func (s *Session) Send(m *protocol.Message) error {
	l, err := s.connected()
	if err != nil {
		return err
	}
	return s.write(l, m)
}

// SendTransaction tags m with a fresh wired.transaction ID and routes the
// replies carrying it to progress and completion instead of the observers'
// OnMessage. completion is called exactly once, unless Send fails.
func (s *Session) SendTransaction(m *protocol.Message, progress ProgressFunc, completion CompletionFunc) error {
	l, err := s.connected()
	if err != nil {
		return err
	}

	tx := s.tx.add(m.Name(), progress, completion)
	if err := m.Set(fieldTransaction, tx.id); err != nil {
		s.tx.remove(tx.id)
		return err
	}
	if err := s.write(l, m); err != nil {
		s.tx.remove(tx.id)
		return err
	}
	return nil
}

// write sends m on l. Transport and crypto failures end the session;
// encoding errors are only returned.
func (s *Session) write(l *link, m *protocol.Message) error {
	if err := l.ch.WriteMessage(m); err != nil {
		var ioErr *wire.IoError
		var cryptoErr *crypto.Error
		if errors.As(err, &ioErr) || errors.As(err, &cryptoErr) {
			s.terminate(l, err)
		}
		return err
	}
	s.observers.each(func(o Observer) { o.OnSent(s, m) })
	return nil
}

func (s *Session) readLoop(l *link, ready <-chan struct{}) {
	defer l.wg.Done()

	select {
	case <-ready:
	case <-l.ctx.Done():
		return
	}

	for {
		m, err := l.ch.ReadMessage()
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			var specErr *spec.Error
			if errors.As(err, &specErr) {
				s.log.Debug().Err(err).Msg("ignoring message")
				s.observers.each(func(o Observer) { o.OnSpecError(s, err) })
				continue
			}
			s.log.Warn().Err(err).Msg("read failed")
			s.terminate(l, err)
			return
		}
		s.handle(l, m)
	}
}

func (s *Session) handle(l *link, m *protocol.Message) {
	if m.Name() == msgSendPing {
		l.lastPing.Store(s.clock.Now().UnixNano())
		if err := s.replyPing(l.ch, m); err != nil {
			s.log.Warn().Err(err).Msg("ping reply failed")
			s.terminate(l, err)
		}
		return
	}

	isError := m.Name() == msgError
	if s.tx.deliver(m) {
		if isError {
			s.observers.each(func(o Observer) { o.OnError(s, m) })
		}
		return
	}
	if isError {
		s.observers.each(func(o Observer) { o.OnError(s, m) })
		return
	}
	s.observers.each(func(o Observer) { o.OnMessage(s, m) })
}

func (s *Session) keepaliveLoop(l *link) {
	defer l.wg.Done()

	ticker := s.clock.NewTicker(s.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C():
			silence := s.clock.Now().Sub(time.Unix(0, l.lastPing.Load()))
			if silence > s.keepaliveTimeout {
				s.log.Warn().Dur("silence", silence).Msg("keepalive timeout")
				s.terminate(l, wire.NewProtocolError(wire.KindKeepaliveTimeout, "no ping for %s", silence.Round(time.Second)))
				return
			}
		}
	}
}

// Disconnect closes the connection and waits until the session is
// Disconnected and observers have seen OnDisconnected. It is idempotent.
// Observer callbacks run on the read goroutine and must use DisconnectAsync
// instead.
func (s *Session) Disconnect() {
	if l := s.DisconnectAsync(); l != nil {
		<-l
	}
}

// DisconnectAsync starts tearing the connection down and returns without
// waiting. The returned channel, nil when there was no connection, is
// closed once the session is Disconnected.
func (s *Session) DisconnectAsync() <-chan struct{} {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil {
		return nil
	}

	s.terminate(l, nil)
	return l.done
}

// terminate tears l down once. The first cause wins; nil means a local
// Disconnect. Waiting for the loops and releasing the channel happen on a
// helper goroutine so loops may call terminate themselves.
func (s *Session) terminate(l *link, cause error) {
	l.once.Do(func() {
		s.setState(StateDisconnecting)
		l.cancel()
		l.ch.Close()

		go func() {
			l.wg.Wait()
			l.ch.Release()

			failure := cause
			if failure == nil {
				failure = &SessionError{Kind: KindNotConnected, State: StateDisconnected}
			}
			s.tx.fail(failure)

			s.mu.Lock()
			if s.link == l {
				s.link = nil
			}
			s.setStateLocked(StateDisconnected)
			s.mu.Unlock()

			if cause != nil {
				s.log.Warn().Err(cause).Str("target", l.target.String()).Msg("disconnected")
			} else {
				s.log.Info().Str("target", l.target.String()).Msg("disconnected")
			}
			s.observers.each(func(o Observer) { o.OnDisconnected(s, cause) })
			close(l.done)
		}()
	})
}

// PendingTransactions returns the number of transactions awaiting a reply.
func (s *Session) PendingTransactions() int { return s.tx.len() }
