package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/educaition/station/internal/model"
)

// Manager owns one engine per (test key, room id) pair for the lifetime of
// the process. Engines are created lazily on the first start request.
type Manager struct {
	deviceID string
	backend  Backend
	registry CompletionRegistry
	progress ProgressStore
	hub      Publisher
	log      zerolog.Logger

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewManager creates an engine manager. hub may be nil.
func NewManager(
	deviceID string,
	be Backend,
	registry CompletionRegistry,
	progress ProgressStore,
	hub Publisher,
	log zerolog.Logger,
) *Manager {
	return &Manager{
		deviceID: deviceID,
		backend:  be,
		registry: registry,
		progress: progress,
		hub:      hub,
		log:      log,
		engines:  make(map[string]*Engine),
	}
}

// Get returns the engine for the pair, creating it when absent. Rejects
// unknown test keys.
func (m *Manager) Get(testKey, roomID string) (*Engine, error) {
	def, ok := model.TestByType(model.TestType(testKey))
	if !ok {
		return nil, ErrUnknownTest
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := testKey + "\x00" + roomID
	if eng, ok := m.engines[key]; ok {
		return eng, nil
	}
	eng := NewEngine(def, roomID, m.deviceID, m.backend, m.registry, m.progress, m.hub, m.log)
	m.engines[key] = eng
	return eng, nil
}

// Lookup returns the engine for the pair only if it already exists.
func (m *Manager) Lookup(testKey, roomID string) (*Engine, error) {
	if _, ok := model.TestByType(model.TestType(testKey)); !ok {
		return nil, ErrUnknownTest
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	eng, ok := m.engines[testKey+"\x00"+roomID]
	if !ok {
		return nil, ErrNoSession
	}
	return eng, nil
}

// Reset wipes local state for the pair so a supervised retake can start.
// Creates the engine when absent: an override may target a pair whose
// completion mark predates this process.
func (m *Manager) Reset(ctx context.Context, testKey, roomID string) error {
	eng, err := m.Get(testKey, roomID)
	if err != nil {
		return err
	}
	return eng.Reset(ctx)
}
