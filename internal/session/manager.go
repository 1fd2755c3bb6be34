// Package session tracks duel views: one transcript, its playback
// coordinator and the show it was loaded from.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/robocomic/internal/backend"
	"github.com/ent0n29/robocomic/internal/playback"
	"github.com/ent0n29/robocomic/internal/store"
	"github.com/ent0n29/robocomic/internal/transcript"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound = errors.New("view not found")
	ErrEnded    = errors.New("view has ended")
)

// View is the server-side state of one duel screen.
type View struct {
	ID             string               `json:"view_id"`
	UserID         string               `json:"user_id,omitempty"`
	Status         Status               `json:"status"`
	Lang           string               `json:"lang"`
	SelectedShowID string               `json:"selected_show_id,omitempty"`
	Params         *store.ShowParams    `json:"params,omitempty"`
	Comedian1Name  string               `json:"comedian1_name,omitempty"`
	Comedian2Name  string               `json:"comedian2_name,omitempty"`
	Judge          *backend.JudgeResult `json:"judge,omitempty"`
	Generating     bool                 `json:"generating"`
	// History is the raw transcript; clients read it segmented from the
	// playback state.
	History        []transcript.Line `json:"-"`
	Voices         backend.VoiceIDs  `json:"voices"`
	StartedAt      time.Time         `json:"started_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
}

type entry struct {
	view        *View
	coordinator *playback.Coordinator
}

// Manager owns every live view and expires the idle ones.
type Manager struct {
	mu                sync.RWMutex
	views             map[string]*entry
	inactivityTimeout time.Duration
	newCoordinator    func() *playback.Coordinator
	onExpire          func(*View)
	now               func() time.Time
}

func NewManager(inactivityTimeout time.Duration, newCoordinator func() *playback.Coordinator) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		views:             make(map[string]*entry),
		inactivityTimeout: inactivityTimeout,
		newCoordinator:    newCoordinator,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) SetExpireHook(hook func(*View)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(userID, lang string) *View {
	if lang == "" {
		lang = "en"
	}
	now := m.now()
	v := &View{
		ID:             uuid.NewString(),
		UserID:         userID,
		Status:         StatusActive,
		Lang:           lang,
		StartedAt:      now,
		LastActivityAt: now,
	}
	e := &entry{view: v, coordinator: m.newCoordinator()}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[v.ID] = e
	return clone(v)
}

func (m *Manager) Get(viewID string) (*View, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.views[viewID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e.view), nil
}

// Coordinator returns the playback coordinator of an active view and marks
// the view as used.
func (m *Manager) Coordinator(viewID string) (*playback.Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.views[viewID]
	if !ok {
		return nil, ErrNotFound
	}
	if e.view.Status != StatusActive {
		return nil, ErrEnded
	}
	e.view.LastActivityAt = m.now()
	return e.coordinator, nil
}

func (m *Manager) Touch(viewID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.views[viewID]
	if !ok {
		return ErrNotFound
	}
	e.view.LastActivityAt = m.now()
	return nil
}

// Update applies fn to an active view under the manager lock.
func (m *Manager) Update(viewID string, fn func(*View)) (*View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.views[viewID]
	if !ok {
		return nil, ErrNotFound
	}
	if e.view.Status != StatusActive {
		return nil, ErrEnded
	}
	fn(e.view)
	e.view.LastActivityAt = m.now()
	return clone(e.view), nil
}

// BeginGenerate flags the view as generating. It reports false when a
// generation is already running.
func (m *Manager) BeginGenerate(viewID string) (bool, error) {
	started := false
	_, err := m.Update(viewID, func(v *View) {
		if v.Generating {
			return
		}
		v.Generating = true
		started = true
	})
	return started, err
}

func (m *Manager) End(viewID string) (*View, error) {
	m.mu.Lock()
	e, ok := m.views[viewID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	alreadyEnded := e.view.Status == StatusEnded
	m.endLocked(e)
	out := clone(e.view)
	m.mu.Unlock()

	if !alreadyEnded {
		e.coordinator.Close()
	}
	return out, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.views {
		if e.view.Status == StatusActive {
			count++
		}
	}
	return count
}

// expireInactive ends idle views and forgets views that have stayed ended
// for another full timeout.
func (m *Manager) expireInactive() {
	now := m.now()
	var expired []*entry

	m.mu.Lock()
	for id, e := range m.views {
		idle := now.Sub(e.view.LastActivityAt)
		if idle < m.inactivityTimeout {
			continue
		}
		if e.view.Status == StatusEnded {
			delete(m.views, id)
			continue
		}
		m.endLocked(e)
		expired = append(expired, e)
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, e := range expired {
		e.coordinator.Close()
		if hook != nil {
			hook(clone(e.view))
		}
	}
}

func (m *Manager) endLocked(e *entry) {
	e.view.Status = StatusEnded
	e.view.Generating = false
	e.view.LastActivityAt = m.now()
}

func clone(v *View) *View {
	c := *v
	if v.Params != nil {
		p := *v.Params
		c.Params = &p
	}
	if v.Judge != nil {
		j := *v.Judge
		c.Judge = &j
	}
	return &c
}
