package server

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/wired/pkg/protocol"
	"github.com/aeolun/wired/pkg/wire"
)

// PublicChatID is the chat every server has.
const PublicChatID uint32 = 1

// Session represents an active client connection
type Session struct {
	ID         uint32 // wired.user.id
	Channel    *wire.Channel
	RemoteAddr string

	mu         sync.RWMutex // Protects the fields below
	nick       string
	status     string
	icon       []byte
	login      string
	privileges []string
	clientInfo bool
	loggedIn   bool
	chats      map[uint32]bool

	lastPing atomic.Int64 // unix nanos of the last wired.ping
}

// Send writes m to the client. The channel serializes concurrent writers.
func (s *Session) Send(m *protocol.Message) error {
	return s.Channel.WriteMessage(m)
}

func (s *Session) Nick() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nick
}

func (s *Session) Login() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.login
}

// LoggedIn reports whether wired.send_login succeeded.
func (s *Session) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}

// LastPing returns when the client last answered a ping, or the zero time.
func (s *Session) LastPing() time.Time {
	n := s.lastPing.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// SessionManager manages all active sessions
type SessionManager struct {
	sessions map[uint32]*Session
	nextID   uint32
	mu       sync.RWMutex
	metrics  *Metrics

	// chat ID -> session ID -> session
	chats   map[uint32]map[uint32]*Session
	chatsMu sync.RWMutex
}

// NewSessionManager creates a new session manager
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[uint32]*Session),
		chats:    map[uint32]map[uint32]*Session{PublicChatID: {}},
	}
}

// SetMetrics attaches metrics to the session manager
func (sm *SessionManager) SetMetrics(metrics *Metrics) {
	sm.metrics = metrics
}

// CreateSession registers a negotiated channel and assigns it a user ID.
func (sm *SessionManager) CreateSession(ch *wire.Channel) *Session {
	sess := &Session{
		Channel:    ch,
		RemoteAddr: ch.RemoteAddr().String(),
		login:      ch.Username(),
		chats:      make(map[uint32]bool),
	}

	sm.mu.Lock()
	for {
		sm.nextID++
		if _, busy := sm.sessions[sm.nextID]; sm.nextID != 0 && !busy {
			break
		}
	}
	sess.ID = sm.nextID
	sm.sessions[sess.ID] = sess
	count := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(count)
		sm.metrics.RecordSessionCreated()
	}
	return sess
}

// GetSession returns a session by ID
func (sm *SessionManager) GetSession(id uint32) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sess, ok := sm.sessions[id]
	return sess, ok
}

// GetAllSessions returns all active sessions ordered by ID
func (sm *SessionManager) GetAllSessions() []*Session {
	sm.mu.RLock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		sessions = append(sessions, sess)
	}
	sm.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// RemoveSession removes a session from every chat and releases its channel.
// It returns false if the session was already gone.
func (sm *SessionManager) RemoveSession(id uint32) bool {
	sm.mu.Lock()
	sess, ok := sm.sessions[id]
	if !ok {
		sm.mu.Unlock()
		return false
	}
	delete(sm.sessions, id)
	count := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(count)
		sm.metrics.RecordSessionDisconnected()
	}

	sess.mu.Lock()
	chats := make([]uint32, 0, len(sess.chats))
	for chatID := range sess.chats {
		chats = append(chats, chatID)
	}
	sess.chats = nil
	sess.mu.Unlock()

	sm.chatsMu.Lock()
	for _, chatID := range chats {
		delete(sm.chats[chatID], id)
	}
	sm.chatsMu.Unlock()

	sess.Channel.Release()
	return true
}

// CloseAll removes every session.
func (sm *SessionManager) CloseAll() {
	for _, sess := range sm.GetAllSessions() {
		sm.RemoveSession(sess.ID)
	}
}

// HasChat reports whether chatID exists.
func (sm *SessionManager) HasChat(chatID uint32) bool {
	sm.chatsMu.RLock()
	defer sm.chatsMu.RUnlock()
	_, ok := sm.chats[chatID]
	return ok
}

// JoinChat adds sess to chatID. It returns false if the chat does not exist
// or sess was already a member.
func (sm *SessionManager) JoinChat(sess *Session, chatID uint32) bool {
	sm.chatsMu.Lock()
	defer sm.chatsMu.Unlock()

	members, ok := sm.chats[chatID]
	if !ok {
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.chats == nil || sess.chats[chatID] {
		return false
	}
	sess.chats[chatID] = true
	members[sess.ID] = sess
	return true
}

// LeaveChat removes sess from chatID. It returns false if sess was not a member.
func (sm *SessionManager) LeaveChat(sess *Session, chatID uint32) bool {
	sm.chatsMu.Lock()
	defer sm.chatsMu.Unlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.chats[chatID] {
		return false
	}
	delete(sess.chats, chatID)
	delete(sm.chats[chatID], sess.ID)
	return true
}

// OnChat reports whether sess is a member of chatID.
func (sm *SessionManager) OnChat(sess *Session, chatID uint32) bool {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.chats[chatID]
}

// ChatMembers returns the members of chatID ordered by ID.
func (sm *SessionManager) ChatMembers(chatID uint32) []*Session {
	sm.chatsMu.RLock()
	members := make([]*Session, 0, len(sm.chats[chatID]))
	for _, sess := range sm.chats[chatID] {
		members = append(members, sess)
	}
	sm.chatsMu.RUnlock()

	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}
