package server

import (
	"crypto/subtle"
	"fmt"
	"runtime"
	"time"

	"github.com/aeolun/wired/pkg/crypto"
	"github.com/aeolun/wired/pkg/protocol"
)

const (
	msgOkay         = "wired.okay"
	msgError        = "wired.error"
	msgSendPing     = "wired.send_ping"
	msgPing         = "wired.ping"
	msgClientInfo   = "wired.client_info"
	msgServerInfo   = "wired.server_info"
	msgSendLogin    = "wired.send_login"
	msgLogin        = "wired.login"
	msgPrivileges   = "wired.account.privileges"
	msgSetNick      = "wired.user.set_nick"
	msgSetStatus    = "wired.user.set_status"
	msgSetIcon      = "wired.user.set_icon"
	msgJoinChat     = "wired.chat.join_chat"
	msgLeaveChat    = "wired.chat.leave_chat"
	msgUserList     = "wired.chat.user_list"
	msgUserListDone = "wired.chat.user_list.done"
	msgSendSay      = "wired.chat.send_say"
	msgSay          = "wired.chat.say"
	msgSendMe       = "wired.chat.send_me"
	msgMe           = "wired.chat.me"

	fieldTransaction = "wired.transaction"
	fieldError       = "wired.error"
	fieldErrorString = "wired.error.string"
	fieldUserID      = "wired.user.id"
	fieldUserLogin   = "wired.user.login"
	fieldUserPass    = "wired.user.password"
	fieldUserNick    = "wired.user.nick"
	fieldUserStatus  = "wired.user.status"
	fieldUserIcon    = "wired.user.icon"
	fieldUserIdle    = "wired.user.idle"
	fieldChatID      = "wired.chat.id"
	fieldChatSay     = "wired.chat.say"
	fieldChatMe      = "wired.chat.me"

	errInternal            = "wired.error.internal_error"
	errUnrecognizedMessage = "wired.error.unrecognized_message"
	errOutOfSequence       = "wired.error.message_out_of_sequence"
	errLoginFailed         = "wired.error.login_failed"
	errChatNotFound        = "wired.error.chat_not_found"
	errAlreadyOnChat       = "wired.error.already_on_chat"
	errNotOnChat           = "wired.error.not_on_chat"
)

// handleMessage dispatches a message to the appropriate handler. The returned
// error is a write failure on sess; protocol-level refusals are answered
// with wired.error instead.
func (s *Server) handleMessage(sess *Session, m *protocol.Message) error {
	switch m.Name() {
	case msgPing:
		sess.lastPing.Store(time.Now().UnixNano())
		return nil
	case msgSendPing:
		return s.reply(sess, m, msgPing)
	case msgClientInfo:
		return s.handleClientInfo(sess, m)
	case msgSetNick, msgSetStatus, msgSetIcon:
		return s.handleSetUser(sess, m)
	case msgSendLogin:
		return s.handleLogin(sess, m)
	}

	if !sess.LoggedIn() {
		return s.sendError(sess, m, errOutOfSequence)
	}

	switch m.Name() {
	case msgJoinChat:
		return s.handleJoinChat(sess, m)
	case msgLeaveChat:
		return s.handleLeaveChat(sess, m)
	case msgSendSay:
		return s.handleChatText(sess, m, fieldChatSay, msgSay)
	case msgSendMe:
		return s.handleChatText(sess, m, fieldChatMe, msgMe)
	default:
		return s.sendError(sess, m, errUnrecognizedMessage)
	}
}

func (s *Server) handleClientInfo(sess *Session, m *protocol.Message) error {
	sess.mu.Lock()
	sess.clientInfo = true
	sess.mu.Unlock()

	app, _ := m.String("wired.info.application.name")
	version, _ := m.String("wired.info.application.version")
	s.log.Debug().Uint32("session", sess.ID).Str("application", app+" "+version).Msg("client info")

	banner := s.config.Banner
	if banner == nil {
		banner = []byte{}
	}
	return s.reply(sess, m, msgServerInfo,
		"wired.info.application.name", "wired-server",
		"wired.info.application.version", "1.0",
		"wired.info.application.build", "1",
		"wired.info.os.name", runtime.GOOS,
		"wired.info.os.version", runtime.Version(),
		"wired.info.arch", runtime.GOARCH,
		"wired.info.supports_rsrc", false,
		"wired.info.name", s.config.Name,
		"wired.info.description", s.config.Description,
		"wired.info.banner", banner,
		"wired.info.downloads", uint32(0),
		"wired.info.uploads", uint32(0),
		"wired.info.download_speed", uint32(0),
		"wired.info.upload_speed", uint32(0),
		"wired.info.start_time", s.startTime,
		"wired.info.files.count", uint64(0),
		"wired.info.files.size", uint64(0),
	)
}

func (s *Server) handleSetUser(sess *Session, m *protocol.Message) error {
	sess.mu.Lock()
	if !sess.clientInfo {
		sess.mu.Unlock()
		return s.sendError(sess, m, errOutOfSequence)
	}
	switch m.Name() {
	case msgSetNick:
		sess.nick, _ = m.String(fieldUserNick)
	case msgSetStatus:
		sess.status, _ = m.String(fieldUserStatus)
	case msgSetIcon:
		sess.icon, _ = m.Data(fieldUserIcon)
	}
	sess.mu.Unlock()
	return s.reply(sess, m, msgOkay)
}

func (s *Server) handleLogin(sess *Session, m *protocol.Message) error {
	sess.mu.RLock()
	ready, already := sess.clientInfo, sess.loggedIn
	sess.mu.RUnlock()
	if !ready || already {
		return s.sendError(sess, m, errOutOfSequence)
	}

	login, _ := m.String(fieldUserLogin)
	digest, _ := m.String(fieldUserPass)
	account, ok := s.account(login)
	if !ok || subtle.ConstantTimeCompare([]byte(digest), []byte(crypto.PasswordDigest(account.Password))) != 1 {
		s.log.Info().Uint32("session", sess.ID).Str("login", login).Msg("login failed")
		return s.sendError(sess, m, errLoginFailed)
	}

	sess.mu.Lock()
	sess.loggedIn = true
	sess.login = login
	sess.privileges = account.Privileges
	sess.mu.Unlock()
	s.log.Info().Uint32("session", sess.ID).Str("login", login).Msg("logged in")

	if err := s.reply(sess, m, msgLogin, fieldUserID, sess.ID); err != nil {
		return err
	}

	granted := make(map[string]bool, len(account.Privileges))
	for _, p := range account.Privileges {
		granted[p] = true
	}
	var fields []any
	for _, p := range s.catalog.Privileges() {
		fields = append(fields, p, granted[p])
	}
	return s.reply(sess, m, msgPrivileges, fields...)
}

func (s *Server) handleJoinChat(sess *Session, m *protocol.Message) error {
	chatID, _ := m.Uint32(fieldChatID)
	if !s.sessions.HasChat(chatID) {
		return s.sendError(sess, m, errChatNotFound)
	}
	if !s.sessions.JoinChat(sess, chatID) {
		return s.sendError(sess, m, errAlreadyOnChat)
	}

	for _, member := range s.sessions.ChatMembers(chatID) {
		member.mu.RLock()
		nick, status, icon := member.nick, member.status, member.icon
		member.mu.RUnlock()
		if icon == nil {
			icon = []byte{}
		}
		err := s.reply(sess, m, msgUserList,
			fieldChatID, chatID,
			fieldUserID, member.ID,
			fieldUserIdle, false,
			fieldUserNick, nick,
			fieldUserStatus, status,
			fieldUserIcon, icon,
		)
		if err != nil {
			return err
		}
	}
	return s.reply(sess, m, msgUserListDone, fieldChatID, chatID)
}

func (s *Server) handleLeaveChat(sess *Session, m *protocol.Message) error {
	chatID, _ := m.Uint32(fieldChatID)
	if !s.sessions.LeaveChat(sess, chatID) {
		return s.sendError(sess, m, errNotOnChat)
	}
	return s.reply(sess, m, msgOkay)
}

// handleChatText broadcasts wired.chat.say or wired.chat.me to every member
// of the chat, the sender included, then acknowledges the sender.
func (s *Server) handleChatText(sess *Session, m *protocol.Message, field, broadcast string) error {
	chatID, _ := m.Uint32(fieldChatID)
	if !s.sessions.OnChat(sess, chatID) {
		return s.sendError(sess, m, errNotOnChat)
	}
	text, _ := m.String(field)

	out, err := s.newMessage(broadcast, fieldChatID, chatID, fieldUserID, sess.ID, field, text)
	if err != nil {
		return s.sendError(sess, m, errInternal)
	}
	for _, member := range s.sessions.ChatMembers(chatID) {
		if err := member.Send(out); err != nil {
			// The member's own loop notices the broken channel.
			if member == sess {
				return err
			}
			continue
		}
		s.metrics.RecordMessageSent(broadcast)
	}
	return s.reply(sess, m, msgOkay)
}

func (s *Server) sendPing(sess *Session) error {
	m, err := s.newMessage(msgSendPing, fieldTransaction, s.pingSeq.Add(1))
	if err != nil {
		return err
	}
	if err := sess.Send(m); err != nil {
		return err
	}
	s.metrics.RecordMessageSent(msgSendPing)
	return nil
}

func (s *Server) newMessage(name string, fields ...any) (*protocol.Message, error) {
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("odd field list for %s", name)
	}
	m, err := protocol.NewMessage(s.catalog, name)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(fields); i += 2 {
		if err := m.Set(fields[i].(string), fields[i+1]); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return m, nil
}

// reply sends name to sess, echoing the request's wired.transaction.
func (s *Server) reply(sess *Session, request *protocol.Message, name string, fields ...any) error {
	if request != nil {
		if id, ok := request.Uint32(fieldTransaction); ok {
			fields = append(fields, fieldTransaction, id)
		}
	}
	m, err := s.newMessage(name, fields...)
	if err != nil {
		// The catalog cannot express this reply; the client stays connected.
		s.log.Error().Err(err).Str("message", name).Msg("failed to build reply")
		return nil
	}
	if err := sess.Send(m); err != nil {
		return err
	}
	s.metrics.RecordMessageSent(name)
	return nil
}

// sendError answers request with wired.error carrying the named code.
func (s *Server) sendError(sess *Session, request *protocol.Message, name string) error {
	es, ok := s.catalog.ErrorByName(name)
	if !ok {
		s.log.Error().Str("error", name).Msg("catalog has no such error")
		return nil
	}
	fields := []any{fieldError, es.Code}
	if request != nil {
		fields = append(fields, fieldErrorString, request.Name())
	}
	return s.reply(sess, request, msgError, fields...)
}
