package upload

import (
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Progress is the live, concurrently readable view of one session.
type Progress struct {
	target    Target
	startedAt time.Time

	state  atomic.Int32
	chunks atomic.Int64
	bytes  atomic.Int64
}

func newProgress(target Target, startedAt time.Time) *Progress {
	return &Progress{target: target, startedAt: startedAt}
}

func (p *Progress) setState(state State) {
	p.state.Store(int32(state))
}

func (p *Progress) addChunk(n int) {
	p.chunks.Add(1)
	p.bytes.Add(int64(n))
}

func (p *Progress) counts() (int, int64) {
	return int(p.chunks.Load()), p.bytes.Load()
}

// Snapshot copies the current progress.
func (p *Progress) Snapshot() Snapshot {
	chunks, bytes := p.counts()
	return Snapshot{
		ID:          p.target.ID,
		CandidateID: p.target.CandidateID,
		SessionID:   p.target.SessionID,
		Path:        p.target.Path,
		State:       State(p.state.Load()).String(),
		Chunks:      chunks,
		Bytes:       bytes,
		StartedAt:   p.startedAt,
	}
}

// Snapshot describes an active upload session.
type Snapshot struct {
	ID          string    `json:"id"`
	CandidateID string    `json:"candidateId"`
	SessionID   string    `json:"sessionId"`
	Path        string    `json:"-"`
	State       string    `json:"state"`
	Chunks      int       `json:"chunks"`
	Bytes       int64     `json:"bytes"`
	StartedAt   time.Time `json:"startedAt"`
}

// registry tracks sessions that are currently receiving. One entry per
// destination, so it also keeps two local sessions off the same file.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*Progress
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*Progress)}
}

func (r *registry) register(p *Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[p.target.ID]; exists {
		return ErrDestinationBusy
	}
	r.sessions[p.target.ID] = p
	return nil
}

func (r *registry) unregister(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *registry) get(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.sessions[id]
	if !ok {
		return Snapshot{}, false
	}
	return p.Snapshot(), true
}

func (r *registry) writing(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.sessions {
		if filepath.Base(p.target.Path) == name {
			return true
		}
	}
	return false
}

func (r *registry) list() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, p := range r.sessions {
		out = append(out, p.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
