package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aeolun/wired/pkg/protocol"
	"github.com/aeolun/wired/pkg/spec"
	"github.com/aeolun/wired/pkg/wire"
)

const testUserID uint32 = 7

func testCatalog(t *testing.T) *spec.Catalog {
	t.Helper()
	cat, err := spec.Default()
	require.NoError(t, err)
	return cat
}

// msg builds a message from alternating field names and values.
func msg(t *testing.T, cat *spec.Catalog, name string, fields ...any) *protocol.Message {
	t.Helper()
	m, err := buildMessage(cat, name, fields...)
	require.NoError(t, err)
	return m
}

// mustMsg is msg for responders, which run off the test goroutine.
func mustMsg(cat *spec.Catalog, name string, fields ...any) *protocol.Message {
	m, err := buildMessage(cat, name, fields...)
	if err != nil {
		panic(err)
	}
	return m
}

func serverInfoMessage(cat *spec.Catalog) *protocol.Message {
	return mustMsg(cat, "wired.server_info",
		"wired.info.application.name", "wired-server",
		"wired.info.application.version", "1.0",
		"wired.info.application.build", "42",
		"wired.info.os.name", "linux",
		"wired.info.os.version", "6.1",
		"wired.info.arch", "amd64",
		"wired.info.supports_rsrc", false,
		"wired.info.name", "Test Server",
		"wired.info.description", "A server for tests",
		"wired.info.start_time", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		"wired.info.files.count", uint64(12),
	)
}

// loginResponder answers the login sequence like a server that accepts
// everyone, then delegates to next for anything else.
func loginResponder(cat *spec.Catalog, next func(*protocol.Message) []*protocol.Message) func(*protocol.Message) []*protocol.Message {
	return func(m *protocol.Message) []*protocol.Message {
		switch m.Name() {
		case "wired.client_info":
			return []*protocol.Message{serverInfoMessage(cat)}
		case "wired.user.set_nick", "wired.user.set_status", "wired.user.set_icon":
			return []*protocol.Message{mustMsg(cat, "wired.okay")}
		case "wired.send_login":
			return []*protocol.Message{
				mustMsg(cat, "wired.login", "wired.user.id", testUserID),
				mustMsg(cat, "wired.account.privileges",
					"wired.account.chat.create_chats", true,
					"wired.account.message.send_messages", true,
				),
			}
		}
		if next != nil {
			return next(m)
		}
		return nil
	}
}

func reply(cat *spec.Catalog, request *protocol.Message, name string, fields ...any) *protocol.Message {
	m := mustMsg(cat, name, fields...)
	if id, ok := request.Uint32("wired.transaction"); ok {
		m.MustSet("wired.transaction", id)
	}
	return m
}

type testHarness struct {
	session  *Session
	mock     *MockChannel
	events   *ChannelObserver
	catalog  *spec.Catalog
	clock    *fakeClock
	dialMu   sync.Mutex
	dialOpts []wire.Options
}

func newHarness(t *testing.T, opts ...Option) *testHarness {
	t.Helper()
	h := &testHarness{
		mock:    NewMockChannel(),
		events:  NewChannelObserver(512),
		catalog: testCatalog(t),
		clock:   newFakeClock(),
	}
	h.mock.SetResponder(loginResponder(h.catalog, nil))

	dial := func(_ context.Context, _ *URL, _ *spec.Catalog, o wire.Options) (ChannelInterface, error) {
		h.dialMu.Lock()
		h.dialOpts = append(h.dialOpts, o)
		h.dialMu.Unlock()
		if o.Handshaking != nil {
			o.Handshaking()
		}
		return h.mock, nil
	}
	base := []Option{WithDialer(dial), WithClock(h.clock)}
	h.session = NewSession(h.catalog, append(base, opts...)...)
	h.session.Subscribe(h.events)
	t.Cleanup(h.session.Disconnect)
	return h
}

func (h *testHarness) connect(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.session.Connect(ctx, "wired://guest@localhost"))
	require.Equal(t, StateConnected, h.session.State())
	h.expect(t, EventConnected)
}

// expect returns the next event of type want, skipping sent notifications.
// Any other event fails the test.
func (h *testHarness) expect(t *testing.T, want EventType) Event {
	t.Helper()
	for {
		select {
		case ev := <-h.events.Events():
			if ev.Type == EventSent {
				continue
			}
			require.Equal(t, want, ev.Type, "unexpected event %s (err %v)", ev.Type, ev.Err)
			return ev
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %s event", want)
			return Event{}
		}
	}
}

// expectNone fails if any event other than a sent notification arrives
// within d.
func (h *testHarness) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case ev := <-h.events.Events():
			if ev.Type != EventSent {
				t.Fatalf("unexpected %s event (err %v)", ev.Type, ev.Err)
			}
		case <-deadline:
			return
		}
	}
}

// fakeClock is a manually advanced Clock. Advance delivers one tick to
// every ticker.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

type fakeTicker struct {
	c chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               {}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{c: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) tickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.tickers {
		select {
		case t.c <- c.now:
		default:
		}
	}
}
