package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/logsentry/logsentry/internal/classify"
	"github.com/logsentry/logsentry/internal/store"
)

// Manager lazily creates and supervises one Processor per active app_id,
// each running in its own goroutine for the lifetime of the server.
type Manager struct {
	mu    sync.Mutex
	procs map[string]*Processor

	ctx        context.Context
	st         *store.Store
	classifier *classify.Runner
	spoolDir   string
	cfg        Config
}

// NewManager builds a Manager. ctx governs every Processor it starts: when
// ctx is cancelled, every managed Processor drains and exits.
func NewManager(ctx context.Context, st *store.Store, classifier *classify.Runner, spoolDir string, cfg Config) *Manager {
	return &Manager{
		procs:      make(map[string]*Processor),
		ctx:        ctx,
		st:         st,
		classifier: classifier,
		spoolDir:   spoolDir,
		cfg:        cfg,
	}
}

// GetOrCreate returns the Processor for appID, starting one if this is the
// first record ever seen for that app in this process's lifetime.
func (m *Manager) GetOrCreate(appID, appName string) (*Processor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.procs[appID]; ok {
		return p, nil
	}

	p, err := New(appID, appName, m.st, m.classifier, filepath.Join(m.spoolDir, appID+".jsonl"), m.cfg)
	if err != nil {
		return nil, fmt.Errorf("processor manager: creating processor for %s: %w", appID, err)
	}
	m.procs[appID] = p
	go p.Run(m.ctx)
	log.Info().Str("app_id", appID).Msg("processor: started")
	return p, nil
}

// Get returns the Processor for appID if one has already been created.
func (m *Manager) Get(appID string) (*Processor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[appID]
	return p, ok
}

// ActiveAppIDs returns a point-in-time list of every active app_id, mostly
// useful for diagnostics and tests.
func (m *Manager) ActiveAppIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.procs))
	for id := range m.procs {
		out = append(out, id)
	}
	return out
}
