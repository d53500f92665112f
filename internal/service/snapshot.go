package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/polyview/internal/domain"
)

// SnapshotData is one immutable committed view of the markets. Readers may
// hold on to it for as long as they like; it is never modified after commit.
type SnapshotData struct {
	Generation uint64
	Markets    []domain.Market
	Trending   []domain.Market
	Profitable []domain.Market
	FetchedAt  time.Time
	// NoMarkets is set when every source failed or returned nothing.
	NoMarkets bool
}

// Find returns the first market that matches id.
func (d *SnapshotData) Find(id string) (domain.Market, bool) {
	if d == nil {
		return domain.Market{}, false
	}
	for _, set := range [][]domain.Market{d.Markets, d.Trending, d.Profitable} {
		for _, m := range set {
			if m.Matches(id) {
				return m, true
			}
		}
	}
	return domain.Market{}, false
}

// Snapshot holds the last committed collection and guarantees last-fetch-wins:
// every fetch takes a generation ticket from Begin before it starts, and its
// Commit is discarded when a fetch that started later has already committed.
type Snapshot struct {
	issued  atomic.Uint64
	mu      sync.Mutex // serializes commits
	current atomic.Pointer[SnapshotData]
}

// NewSnapshot creates an empty Snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

// Begin issues the next fetch generation.
func (s *Snapshot) Begin() uint64 {
	return s.issued.Add(1)
}

// Latest returns the most recently issued generation.
func (s *Snapshot) Latest() uint64 {
	return s.issued.Load()
}

// Commit installs data unless a newer generation is already installed, in
// which case domain.ErrStaleGeneration is returned and nothing changes.
func (s *Snapshot) Commit(data *SnapshotData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.current.Load(); cur != nil && cur.Generation >= data.Generation {
		return domain.ErrStaleGeneration
	}
	s.current.Store(data)
	return nil
}

// Load returns the committed snapshot, or nil before the first commit.
func (s *Snapshot) Load() *SnapshotData {
	return s.current.Load()
}
