package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/wired/pkg/spec"
)

func TestEncodeLayout(t *testing.T) {
	c := wiredCatalog(t)
	m, err := NewMessage(c, "wired.user.set_nick")
	require.NoError(t, err)
	require.NoError(t, m.Set("wired.user.nick", "ab"))

	out, err := m.Encode()
	require.NoError(t, err)

	nick, _ := c.Field("wired.user.nick")
	want := new(bytes.Buffer)
	_ = binary.Write(want, binary.BigEndian, m.ID())
	_ = binary.Write(want, binary.BigEndian, nick.ID)
	want.WriteByte(byte(spec.TypeString))
	_ = binary.Write(want, binary.BigEndian, uint32(3))
	want.WriteString("ab")
	want.WriteByte(0)

	assert.Equal(t, want.Bytes(), out)
}

func TestEncodeMissingRequired(t *testing.T) {
	m, err := NewMessage(typesCatalog(t), "t.required")
	require.NoError(t, err)
	require.NoError(t, m.Set("t.uint32", uint32(1)))

	_, err = m.Encode()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingField))
}

func TestRoundTripWiredMessages(t *testing.T) {
	c := wiredCatalog(t)

	tests := []struct {
		name   string
		fields map[string]any
	}{
		{
			name: "wired.client_info",
			fields: map[string]any{
				"wired.info.application.name":    "Wired Go",
				"wired.info.application.version": "1.0",
				"wired.info.application.build":   "1",
				"wired.info.os.name":             "linux",
				"wired.info.os.version":          "6.1",
				"wired.info.arch":                "amd64",
				"wired.info.supports_rsrc":       false,
			},
		},
		{
			name: "wired.server_info",
			fields: map[string]any{
				"wired.info.application.name":    "wired-server",
				"wired.info.application.version": "1.0",
				"wired.info.application.build":   "1",
				"wired.info.os.name":             "linux",
				"wired.info.os.version":          "6.1",
				"wired.info.arch":                "arm64",
				"wired.info.supports_rsrc":       true,
				"wired.info.name":                "Test",
				"wired.info.description":         "",
				"wired.info.banner":              []byte{0x89, 'P', 'N', 'G'},
				"wired.info.start_time":          time.Unix(1700000000, 0).UTC(),
				"wired.info.files.count":         uint64(12),
				"wired.info.files.size":          uint64(1 << 40),
			},
		},
		{
			name: "wired.error",
			fields: map[string]any{
				"wired.error":        uint32(4),
				"wired.error.string": "login failed",
				"wired.transaction":  uint32(7),
			},
		},
		{
			name: "wired.account.privileges",
			fields: map[string]any{
				"wired.account.chat.set_topic": true,
				"wired.account.groups":         []string{"admin", "", "users"},
			},
		},
		{
			name:   "wired.okay",
			fields: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMessage(c, tt.name)
			require.NoError(t, err)
			for k, v := range tt.fields {
				require.NoError(t, m.Set(k, v), k)
			}

			out, err := m.Encode()
			require.NoError(t, err)

			decoded, err := Decode(c, out)
			require.NoError(t, err)
			assert.Equal(t, m, decoded)
			assert.Empty(t, decoded.Skipped())
		})
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	c := wiredCatalog(t)
	m, err := NewMessage(c, "wired.okay")
	require.NoError(t, err)
	require.NoError(t, m.Set("wired.transaction", uint32(3)))

	out, err := m.Encode()
	require.NoError(t, err)

	buf := bytes.NewBuffer(out)
	_ = WriteUint32(buf, 9999)
	_ = WriteUint8(buf, uint8(spec.TypeString))
	_ = WriteString(buf, "from a newer peer")
	_ = WriteUint32(buf, 9998)
	_ = WriteUint8(buf, uint8(spec.TypeUint64))
	_ = WriteUint64(buf, 42)

	decoded, err := Decode(c, buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []uint32{9999, 9998}, decoded.Skipped())

	tx, ok := decoded.Uint32("wired.transaction")
	assert.True(t, ok)
	assert.Equal(t, uint32(3), tx)
}

func TestDecodeFlagsUndeclaredFields(t *testing.T) {
	c := typesCatalog(t)
	m, err := NewMessage(c, "t.required")
	require.NoError(t, err)
	require.NoError(t, m.Set("t.string", "declared"))

	out, err := m.Encode()
	require.NoError(t, err)

	extra, _ := c.Field("t.extra")
	buf := bytes.NewBuffer(out)
	_ = WriteUint32(buf, extra.ID)
	_ = WriteUint8(buf, uint8(spec.TypeString))
	_ = WriteString(buf, "not a parameter of t.required")

	decoded, err := Decode(c, buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"t.extra"}, decoded.Undeclared())
	assert.Empty(t, decoded.Skipped())

	v, ok := decoded.String("t.extra")
	assert.True(t, ok)
	assert.Equal(t, "not a parameter of t.required", v)
	s, _ := decoded.String("t.string")
	assert.Equal(t, "declared", s)

	// A decoded message carrying an undeclared field cannot be sent on.
	_, err = decoded.Encode()
	require.Error(t, err)
	assert.True(t, errors.Is(err, spec.ErrUnknownField))
}

func TestDecodeDeclaredFieldsNotFlagged(t *testing.T) {
	c := wiredCatalog(t)
	m, err := NewMessage(c, "wired.chat.send_say")
	require.NoError(t, err)
	m.MustSet("wired.chat.id", uint32(1)).
		MustSet("wired.chat.say", "hi").
		MustSet("wired.transaction", uint32(4))

	out, err := m.Encode()
	require.NoError(t, err)
	decoded, err := Decode(c, out)
	require.NoError(t, err)
	assert.Empty(t, decoded.Undeclared())
}

func TestDecodeUnknownMessageKeepsStreamParseable(t *testing.T) {
	c := wiredCatalog(t)

	unknown := new(bytes.Buffer)
	_ = WriteUint32(unknown, 424242)
	_ = WriteUint32(unknown, 1)
	_ = WriteUint8(unknown, uint8(spec.TypeString))
	_ = WriteString(unknown, "ignored")

	ping, err := NewMessage(c, "wired.send_ping")
	require.NoError(t, err)
	pingBytes, err := ping.Encode()
	require.NoError(t, err)

	var stream bytes.Buffer
	require.NoError(t, EncodeFrame(&stream, &Frame{Payload: unknown.Bytes()}, 0))
	require.NoError(t, EncodeFrame(&stream, &Frame{Payload: pingBytes}, 0))

	first, err := DecodeFrame(&stream, 0, 0)
	require.NoError(t, err)
	var decoded *Message
	assert.NotPanics(t, func() { decoded, err = Decode(c, first.Payload) })
	require.Error(t, err)
	assert.Nil(t, decoded)

	var specErr *spec.Error
	require.True(t, errors.As(err, &specErr))
	assert.Equal(t, spec.KindUnknownMessage, specErr.Kind)
	assert.Equal(t, uint32(424242), specErr.ID)

	second, err := DecodeFrame(&stream, 0, 0)
	require.NoError(t, err)
	decoded, err = Decode(c, second.Payload)
	require.NoError(t, err)
	assert.Equal(t, "wired.send_ping", decoded.Name())
}

func TestDecodeErrors(t *testing.T) {
	c := wiredCatalog(t)
	nick, _ := c.Field("wired.user.nick")
	login, _ := c.Lookup("wired.user.set_nick")

	header := func() *bytes.Buffer {
		b := new(bytes.Buffer)
		_ = WriteUint32(b, login.ID)
		return b
	}

	tests := []struct {
		name    string
		payload func() []byte
		kind    DecodeKind
	}{
		{
			name:    "short message id",
			payload: func() []byte { return []byte{0, 0} },
			kind:    KindTruncated,
		},
		{
			name: "partial field header",
			payload: func() []byte {
				b := header()
				b.Write([]byte{0, 0, 4})
				return b.Bytes()
			},
			kind: KindTruncated,
		},
		{
			name: "string longer than payload",
			payload: func() []byte {
				b := header()
				_ = WriteUint32(b, nick.ID)
				_ = WriteUint8(b, uint8(spec.TypeString))
				_ = WriteUint32(b, 100)
				b.WriteString("short")
				return b.Bytes()
			},
			kind: KindTruncated,
		},
		{
			name: "wire type disagrees with catalog",
			payload: func() []byte {
				b := header()
				_ = WriteUint32(b, nick.ID)
				_ = WriteUint8(b, uint8(spec.TypeUint32))
				_ = WriteUint32(b, 5)
				return b.Bytes()
			},
			kind: KindTypeMismatch,
		},
		{
			name: "unterminated string",
			payload: func() []byte {
				b := header()
				_ = WriteUint32(b, nick.ID)
				_ = WriteUint8(b, uint8(spec.TypeString))
				_ = WriteBytes(b, []byte("abc"))
				return b.Bytes()
			},
			kind: KindTypeMismatch,
		},
		{
			name: "unknown field with invalid type",
			payload: func() []byte {
				b := header()
				_ = WriteUint32(b, 7777)
				_ = WriteUint8(b, 200)
				return b.Bytes()
			},
			kind: KindTypeMismatch,
		},
		{
			name: "list count beyond payload",
			payload: func() []byte {
				b := new(bytes.Buffer)
				privs, _ := c.Lookup("wired.account.privileges")
				groups, _ := c.Field("wired.account.groups")
				_ = WriteUint32(b, privs.ID)
				_ = WriteUint32(b, groups.ID)
				_ = WriteUint8(b, uint8(spec.TypeList))
				_ = WriteUint32(b, 1<<30)
				return b.Bytes()
			},
			kind: KindTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(c, tt.payload())
			require.Error(t, err)

			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr), "got %v", err)
			assert.Equal(t, tt.kind, decErr.Kind)
		})
	}
}
