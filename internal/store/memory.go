package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewMemoryStores returns a fully in-memory Stores container.
// Used in tests and as the zero-dependency fallback when neither Postgres
// nor SQLite is configured.
func NewMemoryStores() *Stores {
	return &Stores{
		Settings:   &memSettings{m: map[string]*UserSettings{}},
		Gating:     &memGating{cfg: map[string]*GatingConfig{}, allow: map[string]bool{}},
		Providers:  &memProviders{},
		Usage:      &memUsage{},
		Failover:   &memFailover{},
		Executions: &memExecs{m: map[string]*ExecutionRecord{}},
		Workspaces: &memWorkspaces{},
		Flows:      &memFlows{},
		Agents:     &memAgents{},
		Messages:   &memMessages{m: map[string]map[string]any{}},
		MediaCache: &memMediaCache{m: map[string]*MediaCacheEntry{}},
		Delivery:   &memDelivery{},
	}
}

// genID issues row IDs (v7 keeps btree inserts ordered). Kept local so the
// bus package can depend on store without a cycle.
func genID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

type memSettings struct {
	mu sync.RWMutex
	m  map[string]*UserSettings
}

func (s *memSettings) Get(_ context.Context, userID string) (*UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[userID]; ok {
		cp := *v
		return &cp, nil
	}
	v := DefaultUserSettings(userID)
	s.m[userID] = v
	cp := *v
	return &cp, nil
}

func (s *memSettings) Save(_ context.Context, v *UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	cp.UpdatedAt = time.Now().UTC()
	s.m[v.UserID] = &cp
	return nil
}

type memGating struct {
	mu    sync.RWMutex
	cfg   map[string]*GatingConfig
	allow map[string]bool // groupID|platform
}

func (g *memGating) GetConfig(_ context.Context, userID string) (*GatingConfig, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.cfg[userID]; ok {
		cp := *v
		return &cp, nil
	}
	v := DefaultGatingConfig(userID)
	g.cfg[userID] = v
	cp := *v
	return &cp, nil
}

func (g *memGating) SaveConfig(_ context.Context, c *GatingConfig) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *c
	g.cfg[c.UserID] = &cp
	return nil
}

func (g *memGating) AllowlistContains(_ context.Context, groupID, platform string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.allow[groupID+"|"+platform], nil
}

func (g *memGating) AllowGroup(_ context.Context, groupID, platform string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allow[groupID+"|"+platform] = true
	return nil
}

type memProviders struct {
	mu   sync.RWMutex
	rows []ProviderRecord
}

func (p *memProviders) ListEnabled(_ context.Context) ([]ProviderRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ProviderRecord, 0, len(p.rows))
	for _, r := range p.rows {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (p *memProviders) Upsert(_ context.Context, rec *ProviderRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.rows {
		if r.Tag == rec.Tag {
			p.rows[i] = *rec
			return nil
		}
	}
	if rec.ID == uuid.Nil {
		rec.ID = genID()
	}
	p.rows = append(p.rows, *rec)
	return nil
}

type memUsage struct {
	mu   sync.Mutex
	rows []UsageRecord
}

func (u *memUsage) Record(_ context.Context, r *UsageRecord) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = genID()
	}
	u.rows = append(u.rows, *r)
	return nil
}

type memFailover struct {
	mu     sync.RWMutex
	active *FailoverConfig
}

func (f *memFailover) Active(_ context.Context) (*FailoverConfig, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.active == nil {
		return nil, nil
	}
	cp := *f.active
	return &cp, nil
}

func (f *memFailover) Activate(_ context.Context, chains map[string][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = &FailoverConfig{ID: genID(), Chains: chains, Active: true, CreatedAt: time.Now().UTC()}
	return nil
}

type memExecs struct {
	mu sync.RWMutex
	m  map[string]*ExecutionRecord
}

func (e *memExecs) Insert(_ context.Context, rec *ExecutionRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *rec
	e.m[rec.TrackingID] = &cp
	return nil
}

func (e *memExecs) Get(_ context.Context, trackingID string) (*ExecutionRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.m[trackingID]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}

func (e *memExecs) UpdateActivity(_ context.Context, trackingID string, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.m[trackingID]; ok {
		v.LastActivityAt = at
	}
	return nil
}

func (e *memExecs) Finish(_ context.Context, trackingID, status string, stdoutLen int, files []string, errStr string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.m[trackingID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	v.Status = status
	v.StdoutLength = stdoutLen
	v.OutputFiles = files
	v.Error = errStr
	v.CompletedAt = &now
	return nil
}

func (e *memExecs) SetDeliveryStatus(_ context.Context, trackingID, ds string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.m[trackingID]; ok {
		v.DeliveryStatus = ds
	}
	return nil
}

func (e *memExecs) CountRunning(_ context.Context, userID string) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, v := range e.m {
		if v.UserID == userID && v.Status == ExecRunning {
			n++
		}
	}
	return n, nil
}

func (e *memExecs) MarkInterrupted(_ context.Context, reason string) ([]ExecutionRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []ExecutionRecord
	now := time.Now().UTC()
	for _, v := range e.m {
		if v.Status == ExecRunning {
			v.Status = ExecFailed
			v.Error = reason
			v.CompletedAt = &now
			out = append(out, *v)
		}
	}
	return out, nil
}

type memWorkspaces struct {
	mu   sync.RWMutex
	rows []WorkspaceRecord
}

func (w *memWorkspaces) Insert(_ context.Context, rec *WorkspaceRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rows = append(w.rows, *rec)
	return nil
}

func (w *memWorkspaces) Get(_ context.Context, userID, agentID string) (*WorkspaceRecord, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for i := range w.rows {
		r := w.rows[i]
		if r.UserID == userID && r.AgentID == agentID && r.DeletedAt == nil {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (w *memWorkspaces) List(_ context.Context, userID string) ([]WorkspaceRecord, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []WorkspaceRecord
	for _, r := range w.rows {
		if r.UserID == userID && r.DeletedAt == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (w *memWorkspaces) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.rows {
		if w.rows[i].ID == id {
			t := at
			w.rows[i].DeletedAt = &t
		}
	}
	return nil
}

func (w *memWorkspaces) ListDeletedBefore(_ context.Context, cutoff time.Time) ([]WorkspaceRecord, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []WorkspaceRecord
	for _, r := range w.rows {
		if r.DeletedAt != nil && r.DeletedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (w *memWorkspaces) HardDelete(_ context.Context, id uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.rows[:0]
	for _, r := range w.rows {
		if r.ID != id {
			out = append(out, r)
		}
	}
	w.rows = out
	return nil
}

type memFlows struct {
	mu   sync.RWMutex
	rows []Flow
}

func (f *memFlows) ListActive(_ context.Context, userID string) ([]Flow, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []Flow
	for _, r := range f.rows {
		if r.Active && (userID == "" || r.UserID == userID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *memFlows) Insert(_ context.Context, fl *Flow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fl.ID == uuid.Nil {
		fl.ID = genID()
	}
	f.rows = append(f.rows, *fl)
	return nil
}

type memAgents struct {
	mu   sync.RWMutex
	rows []AgentRecord
}

func (a *memAgents) ListAutoRespond(_ context.Context, userID string) ([]AgentRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []AgentRecord
	for _, r := range a.rows {
		if r.AutoRespond && r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (a *memAgents) Get(_ context.Context, id uuid.UUID) (*AgentRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i := range a.rows {
		if a.rows[i].ID == id {
			cp := a.rows[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (a *memAgents) Insert(_ context.Context, rec *AgentRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = genID()
	}
	a.rows = append(a.rows, *rec)
	return nil
}

type memMessages struct {
	mu sync.Mutex
	m  map[string]map[string]any
}

func (m *memMessages) SaveAnalysis(_ context.Context, messageID, content string, analysis map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[messageID] = map[string]any{"content": content, "analysis": analysis}
	return nil
}

type memMediaCache struct {
	mu sync.RWMutex
	m  map[string]*MediaCacheEntry
}

func (c *memMediaCache) Get(_ context.Context, hash, kind string) (*MediaCacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.m[hash+"|"+kind]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}

func (c *memMediaCache) Put(_ context.Context, e *MediaCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *e
	c.m[e.Hash+"|"+e.Kind] = &cp
	return nil
}

type memDelivery struct {
	mu    sync.Mutex
	items []DeliveryItem
}

func (d *memDelivery) Enqueue(_ context.Context, item *DeliveryItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = genID()
	}
	item.CreatedAt = time.Now().UTC()
	d.items = append(d.items, *item)
	return nil
}

// Items returns a snapshot of enqueued deliveries (test helper).
func (d *memDelivery) Items() []DeliveryItem {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DeliveryItem, len(d.items))
	copy(out, d.items)
	return out
}
