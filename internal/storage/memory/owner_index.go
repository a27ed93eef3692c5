package memory

import (
	"context"
	"sort"
	"sync"
)

// OwnerIndex tracks per-team ongoing and completed job sets. Each team has its
// own lock covering both sets, which makes MoveToCompleted atomic for readers.
type OwnerIndex struct {
	mu    sync.RWMutex
	teams map[string]*teamSets
}

type teamSets struct {
	mu        sync.Mutex
	seq       uint64
	ongoing   map[string]uint64
	completed map[string]uint64
}

// NewOwnerIndex constructs an empty OwnerIndex.
func NewOwnerIndex() *OwnerIndex {
	return &OwnerIndex{teams: make(map[string]*teamSets)}
}

// AddOngoing inserts jobID into the team's ongoing set. Re-adding is a no-op.
func (x *OwnerIndex) AddOngoing(_ context.Context, teamID, jobID string) error {
	sets := x.team(teamID, true)
	sets.mu.Lock()
	defer sets.mu.Unlock()
	if _, ok := sets.ongoing[jobID]; ok {
		return nil
	}
	sets.seq++
	sets.ongoing[jobID] = sets.seq
	return nil
}

// MoveToCompleted removes jobID from ongoing (if present) and upserts it into
// completed, preserving its original position when it is already there.
func (x *OwnerIndex) MoveToCompleted(_ context.Context, teamID, jobID string) error {
	sets := x.team(teamID, true)
	sets.mu.Lock()
	defer sets.mu.Unlock()
	delete(sets.ongoing, jobID)
	if _, ok := sets.completed[jobID]; ok {
		return nil
	}
	sets.seq++
	sets.completed[jobID] = sets.seq
	return nil
}

// ListOngoing returns a snapshot of the team's ongoing set in insertion order.
func (x *OwnerIndex) ListOngoing(_ context.Context, teamID string) ([]string, error) {
	return x.snapshot(teamID, func(s *teamSets) map[string]uint64 { return s.ongoing }), nil
}

// ListCompleted returns a snapshot of the team's completed set in insertion order.
func (x *OwnerIndex) ListCompleted(_ context.Context, teamID string) ([]string, error) {
	return x.snapshot(teamID, func(s *teamSets) map[string]uint64 { return s.completed }), nil
}

// Remove drops jobID from both of the team's sets.
func (x *OwnerIndex) Remove(_ context.Context, teamID, jobID string) error {
	sets := x.team(teamID, false)
	if sets == nil {
		return nil
	}
	sets.mu.Lock()
	defer sets.mu.Unlock()
	delete(sets.ongoing, jobID)
	delete(sets.completed, jobID)
	return nil
}

func (x *OwnerIndex) snapshot(teamID string, pick func(*teamSets) map[string]uint64) []string {
	sets := x.team(teamID, false)
	if sets == nil {
		return []string{}
	}
	sets.mu.Lock()
	members := pick(sets)
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return members[out[i]] < members[out[j]] })
	sets.mu.Unlock()
	return out
}

func (x *OwnerIndex) team(teamID string, create bool) *teamSets {
	x.mu.RLock()
	sets := x.teams[teamID]
	x.mu.RUnlock()
	if sets != nil || !create {
		return sets
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if sets = x.teams[teamID]; sets == nil {
		sets = &teamSets{
			ongoing:   make(map[string]uint64),
			completed: make(map[string]uint64),
		}
		x.teams[teamID] = sets
	}
	return sets
}
