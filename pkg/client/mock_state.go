package client

import (
	"sync"
	"time"
)

// MockState is an in-memory test implementation of StateInterface
type MockState struct {
	mu sync.RWMutex

	config     map[string]string
	serverKeys map[string]string
	history    map[string]time.Time
	dir        string

	// Error injection
	getConfigErr    error
	setConfigErr    error
	getServerKeyErr error
}

// NewMockState creates a new mock state
func NewMockState() *MockState {
	return &MockState{
		config:     make(map[string]string),
		serverKeys: make(map[string]string),
		history:    make(map[string]time.Time),
		dir:        "/tmp/mock-state",
	}
}

// GetConfig retrieves a configuration value
func (s *MockState) GetConfig(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.getConfigErr != nil {
		return "", s.getConfigErr
	}
	return s.config[key], nil
}

// SetConfig stores a configuration value
func (s *MockState) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setConfigErr != nil {
		return s.setConfigErr
	}
	s.config[key] = value
	return nil
}

// GetLastNickname returns the last used nickname
func (s *MockState) GetLastNickname() string {
	nickname, _ := s.GetConfig("last_nickname")
	return nickname
}

// SetLastNickname stores the last used nickname
func (s *MockState) SetLastNickname(nickname string) error {
	return s.SetConfig("last_nickname", nickname)
}

func (s *MockState) GetServerKey(address string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.getServerKeyErr != nil {
		return "", s.getServerKeyErr
	}
	return s.serverKeys[address], nil
}

func (s *MockState) SaveServerKey(address, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverKeys[address] = fingerprint
	return nil
}

func (s *MockState) DeleteServerKey(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.serverKeys, address)
	return nil
}

func (s *MockState) GetLastConnected(address string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history[address], nil
}

func (s *MockState) SaveSuccessfulConnection(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[address] = time.Now()
	return nil
}

// GetStateDir returns the directory where state is stored
func (s *MockState) GetStateDir() string {
	return s.dir
}

// Close closes the mock state (no-op for in-memory)
func (s *MockState) Close() error {
	return nil
}

// Test helpers

// SetGetConfigError sets an error to return from GetConfig()
func (s *MockState) SetGetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getConfigErr = err
}

// SetSetConfigError sets an error to return from SetConfig()
func (s *MockState) SetSetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConfigErr = err
}

// SetGetServerKeyError sets an error to return from GetServerKey()
func (s *MockState) SetGetServerKeyError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getServerKeyErr = err
}

// GetAllConfig returns all config (for testing)
func (s *MockState) GetAllConfig() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]string, len(s.config))
	for k, v := range s.config {
		result[k] = v
	}
	return result
}

// Clear clears all state (for testing)
func (s *MockState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = make(map[string]string)
	s.serverKeys = make(map[string]string)
	s.history = make(map[string]time.Time)
}

// Verify that MockState implements StateInterface
var _ StateInterface = (*MockState)(nil)
