package client

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestState(t *testing.T) *State {
	t.Helper()
	st, err := OpenState(filepath.Join(t.TempDir(), "nested", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestStateConfig(t *testing.T) {
	st := openTestState(t)

	v, err := st.GetConfig("missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, st.SetConfig("theme", "dark"))
	require.NoError(t, st.SetConfig("theme", "light"))
	v, err = st.GetConfig("theme")
	require.NoError(t, err)
	assert.Equal(t, "light", v)

	assert.Empty(t, st.GetLastNickname())
	require.NoError(t, st.SetLastNickname("alice"))
	assert.Equal(t, "alice", st.GetLastNickname())
}

func TestStateServerKeys(t *testing.T) {
	st := openTestState(t)

	fp, err := st.GetServerKey("example.com:4871")
	require.NoError(t, err)
	assert.Empty(t, fp)

	require.NoError(t, st.SaveServerKey("example.com:4871", "abc"))
	fp, err = st.GetServerKey("example.com:4871")
	require.NoError(t, err)
	assert.Equal(t, "abc", fp)

	require.NoError(t, st.DeleteServerKey("example.com:4871"))
	fp, err = st.GetServerKey("example.com:4871")
	require.NoError(t, err)
	assert.Empty(t, fp)
}

func TestStateConnectionHistory(t *testing.T) {
	st := openTestState(t)

	at, err := st.GetLastConnected("example.com:4871")
	require.NoError(t, err)
	assert.True(t, at.IsZero())

	require.NoError(t, st.SaveSuccessfulConnection("example.com:4871"))
	at, err = st.GetLastConnected("example.com:4871")
	require.NoError(t, err)
	assert.False(t, at.IsZero())
}

func TestStateReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	st, err := OpenState(path)
	require.NoError(t, err)
	require.NoError(t, st.SaveServerKey("host:1", "fp"))
	require.NoError(t, st.Close())

	// Migrations are not re-applied to an existing database.
	st, err = OpenState(path)
	require.NoError(t, err)
	defer st.Close()

	fp, err := st.GetServerKey("host:1")
	require.NoError(t, err)
	assert.Equal(t, "fp", fp)

	var versions int
	require.NoError(t, st.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, len(migrations), versions)
	assert.Equal(t, filepath.Dir(path), st.GetStateDir())
}

func TestPinServerKey(t *testing.T) {
	tests := []struct {
		name    string
		pinned  string
		offered string
		wantErr error
		want    string
	}{
		{name: "first use pins", offered: "aa", want: "aa"},
		{name: "same key accepted", pinned: "aa", offered: "aa", want: "aa"},
		{name: "changed key rejected", pinned: "aa", offered: "bb", wantErr: ErrServerKeyChanged, want: "aa"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewMockState()
			if tt.pinned != "" {
				require.NoError(t, st.SaveServerKey("host:4871", tt.pinned))
			}

			err := PinServerKey(st, "host:4871", tt.offered)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			fp, _ := st.GetServerKey("host:4871")
			assert.Equal(t, tt.want, fp)
		})
	}
}

func TestPinServerKeyStateError(t *testing.T) {
	st := NewMockState()
	boom := errors.New("disk on fire")
	st.SetGetServerKeyError(boom)

	err := PinServerKey(st, "host:4871", "aa")
	assert.ErrorIs(t, err, boom)
}

func TestPinServerKeyWithSQLite(t *testing.T) {
	st := openTestState(t)
	require.NoError(t, PinServerKey(st, "host:4871", "aa"))
	require.NoError(t, PinServerKey(st, "host:4871", "aa"))
	assert.ErrorIs(t, PinServerKey(st, "host:4871", "bb"), ErrServerKeyChanged)
}
