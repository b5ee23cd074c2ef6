package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/wired/pkg/spec"
)

func TestNewMessageUnknown(t *testing.T) {
	_, err := NewMessage(wiredCatalog(t), "wired.does_not_exist")
	require.Error(t, err)

	var specErr *spec.Error
	require.True(t, errors.As(err, &specErr))
	assert.Equal(t, spec.KindUnknownMessage, specErr.Kind)
	assert.Equal(t, "wired.does_not_exist", specErr.Name)
}

func TestSetAndGet(t *testing.T) {
	m, err := NewMessage(typesCatalog(t), "t.all")
	require.NoError(t, err)

	id := uuid.New()
	now := time.Date(2024, 3, 1, 12, 30, 45, 999, time.FixedZone("X", 3600))

	require.NoError(t, m.Set("t.bool", true))
	require.NoError(t, m.Set("t.enum", uint32(2)))
	require.NoError(t, m.Set("t.int8", int8(-4)))
	require.NoError(t, m.Set("t.uint16", uint16(65000)))
	require.NoError(t, m.Set("t.double", 3.25))
	require.NoError(t, m.Set("t.string", "héllo"))
	require.NoError(t, m.Set("t.uuid", id))
	require.NoError(t, m.Set("t.date", now))
	require.NoError(t, m.Set("t.data", []byte{1, 2, 3}))
	require.NoError(t, m.Set("t.list", []string{"a", "b"}))

	b, ok := m.Bool("t.bool")
	assert.True(t, ok)
	assert.True(t, b)

	e, ok := m.Enum("t.enum")
	assert.True(t, ok)
	assert.Equal(t, uint32(2), e)
	name, ok := m.EnumName("t.enum")
	assert.True(t, ok)
	assert.Equal(t, "t.enum.two", name)

	i8, ok := m.Int8("t.int8")
	assert.True(t, ok)
	assert.Equal(t, int8(-4), i8)

	s, ok := m.String("t.string")
	assert.True(t, ok)
	assert.Equal(t, "héllo", s)

	u, ok := m.UUID("t.uuid")
	assert.True(t, ok)
	assert.Equal(t, id, u)

	d, ok := m.Date("t.date")
	assert.True(t, ok)
	assert.Equal(t, now.Unix(), d.Unix())
	assert.Equal(t, 0, d.Nanosecond())
	assert.Equal(t, time.UTC, d.Location())

	list, ok := m.List("t.list")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, list)

	// Wrong getter type never panics
	_, ok = m.Uint32("t.string")
	assert.False(t, ok)
	_, ok = m.String("t.missing")
	assert.False(t, ok)
}

func TestSetCopiesSlices(t *testing.T) {
	m, err := NewMessage(typesCatalog(t), "t.all")
	require.NoError(t, err)

	data := []byte{1, 2, 3}
	require.NoError(t, m.Set("t.data", data))
	data[0] = 9

	got, ok := m.Data("t.data")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, got)

	got[1] = 9
	again, _ := m.Data("t.data")
	assert.Equal(t, []byte{1, 2, 3}, again)
}

func TestSetTypeMismatch(t *testing.T) {
	m, err := NewMessage(typesCatalog(t), "t.all")
	require.NoError(t, err)

	tests := []struct {
		name  string
		field string
		value any
	}{
		{"int for uint32", "t.uint32", 5},
		{"string for data", "t.data", "abc"},
		{"bytes for string", "t.string", []byte("abc")},
		{"int32 for enum", "t.enum", int32(1)},
		{"unix seconds for date", "t.date", int64(1700000000)},
		{"string for uuid", "t.uuid", "0b1c0b1c-0000-0000-0000-000000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Set(tt.field, tt.value)
			require.Error(t, err)

			var mismatch *FieldTypeMismatch
			require.True(t, errors.As(err, &mismatch))
			assert.Equal(t, tt.field, mismatch.Field)
			assert.True(t, errors.Is(err, ErrFieldTypeMismatch))
			assert.False(t, m.Has(tt.field))
		})
	}
}

func TestSetUnknownField(t *testing.T) {
	m, err := NewMessage(wiredCatalog(t), "wired.okay")
	require.NoError(t, err)

	err = m.Set("wired.no_such_field", "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, spec.ErrUnknownField))
}

func TestSetUndeclaredField(t *testing.T) {
	tests := []struct {
		catalog func(testing.TB) *spec.Catalog
		message string
		field   string
		value   any
	}{
		{typesCatalog, "t.required", "t.extra", "not a parameter"},
		{typesCatalog, "t.all", "t.extra", "not a parameter"},
		{wiredCatalog, "wired.send_login", "wired.user.nick", "nick"},
		{wiredCatalog, "wired.chat.say", "wired.transaction", uint32(1)},
	}

	for _, tt := range tests {
		t.Run(tt.message+"/"+tt.field, func(t *testing.T) {
			m, err := NewMessage(tt.catalog(t), tt.message)
			require.NoError(t, err)

			err = m.Set(tt.field, tt.value)
			require.Error(t, err)
			assert.True(t, errors.Is(err, spec.ErrUnknownField))

			var specErr *spec.Error
			require.True(t, errors.As(err, &specErr))
			assert.Equal(t, spec.KindUnknownField, specErr.Kind)
			assert.Equal(t, tt.field, specErr.Name)
			assert.Contains(t, err.Error(), tt.message)
			assert.False(t, m.Has(tt.field))
		})
	}
}

func TestFieldsOrder(t *testing.T) {
	m, err := NewMessage(wiredCatalog(t), "wired.send_login")
	require.NoError(t, err)

	require.NoError(t, m.Set("wired.transaction", uint32(9)))
	require.NoError(t, m.Set("wired.user.password", "digest"))
	require.NoError(t, m.Set("wired.user.login", "guest"))

	assert.Equal(t, []string{"wired.user.login", "wired.user.password", "wired.transaction"}, m.Fields())
}

func TestDescribeMasksPassword(t *testing.T) {
	m, err := NewMessage(wiredCatalog(t), "wired.send_login")
	require.NoError(t, err)
	m.MustSet("wired.user.login", "guest").MustSet("wired.user.password", "secret")

	out := m.Describe()
	assert.Contains(t, out, `wired.user.login="guest"`)
	assert.NotContains(t, out, "secret")
}

func TestMustSetPanics(t *testing.T) {
	m, err := NewMessage(wiredCatalog(t), "wired.okay")
	require.NoError(t, err)

	assert.Panics(t, func() { m.MustSet("wired.transaction", "not a number") })
}
