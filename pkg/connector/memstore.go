package connector

import (
	"context"
	"sync"

	"github.com/lrhodin/mumblesync/pkg/tree"
)

// memoryStore keeps preferences for the lifetime of the process. It is used
// when no database is configured.
type memoryStore struct {
	lock      sync.Mutex
	prefs     map[string]map[string]tree.Preference
	tokens    map[string][]string
	listening map[string][]uint32
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		prefs:     make(map[string]map[string]tree.Preference),
		tokens:    make(map[string][]string),
		listening: make(map[string][]uint32),
	}
}

func (m *memoryStore) AllUserPreferences(_ context.Context, host string) (map[string]tree.Preference, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	out := make(map[string]tree.Preference, len(m.prefs[host]))
	for name, pref := range m.prefs[host] {
		out[name] = pref
	}
	return out, nil
}

func (m *memoryStore) PutUserPreference(_ context.Context, host, userName string, pref tree.Preference) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.prefs[host] == nil {
		m.prefs[host] = make(map[string]tree.Preference)
	}
	m.prefs[host][userName] = pref
	return nil
}

func (m *memoryStore) AccessTokens(_ context.Context, host string) ([]string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]string(nil), m.tokens[host]...), nil
}

func (m *memoryStore) AddAccessToken(_ context.Context, host, token string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, existing := range m.tokens[host] {
		if existing == token {
			return nil
		}
	}
	m.tokens[host] = append(m.tokens[host], token)
	return nil
}

func (m *memoryStore) ListeningChannels(_ context.Context, host string) ([]uint32, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]uint32(nil), m.listening[host]...), nil
}

func (m *memoryStore) SetListeningChannels(_ context.Context, host string, ids []uint32) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.listening[host] = append([]uint32(nil), ids...)
	return nil
}
