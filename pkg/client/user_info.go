package client

import (
	"strconv"

	"github.com/aeolun/wired/pkg/protocol"
)

// UserInfo describes a user as listed in a chat. Nick, Status and Icon may
// be absent on the wire; the getters report presence.
type UserInfo struct {
	ID     uint32
	ChatID uint32
	Idle   bool

	nick   *string
	status *string
	icon   []byte
	color  *uint32
}

// ParseUserInfo reads a wired.chat.user_list entry.
func ParseUserInfo(m *protocol.Message) UserInfo {
	var u UserInfo
	u.ID, _ = m.Uint32("wired.user.id")
	u.ChatID, _ = m.Uint32("wired.chat.id")
	u.Idle, _ = m.Bool("wired.user.idle")
	if v, ok := m.String("wired.user.nick"); ok {
		u.nick = &v
	}
	if v, ok := m.String("wired.user.status"); ok {
		u.status = &v
	}
	if v, ok := m.Data("wired.user.icon"); ok {
		u.icon = v
	}
	if v, ok := m.Enum("wired.account.color"); ok {
		u.color = &v
	}
	return u
}

func (u UserInfo) Nick() (string, bool) {
	if u.nick == nil {
		return "", false
	}
	return *u.nick, true
}

func (u UserInfo) Status() (string, bool) {
	if u.status == nil {
		return "", false
	}
	return *u.status, true
}

func (u UserInfo) Icon() ([]byte, bool) {
	return u.icon, u.icon != nil
}

// Color returns the account color enum value.
func (u UserInfo) Color() (uint32, bool) {
	if u.color == nil {
		return 0, false
	}
	return *u.color, true
}

// DisplayName is the nick, or "user <id>" when none was sent.
func (u UserInfo) DisplayName() string {
	if n, ok := u.Nick(); ok && n != "" {
		return n
	}
	return "user " + strconv.FormatUint(uint64(u.ID), 10)
}
