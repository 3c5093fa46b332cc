// Package bid holds the in-memory state of the currently loaded bid.
package bid

import (
	"fmt"
	"sort"
	"sync"
)

// Shot is one VFX shot with its pricing breakdown, as produced by the
// worker's script analysis.
type Shot struct {
	ID                 string   `json:"id"`
	SceneNumber        string   `json:"scene_number"`
	Description        string   `json:"description"`
	VFXTypes           []string `json:"vfx_types"`
	Complexity         string   `json:"complexity"`
	EstimatedHours     *float64 `json:"estimated_hours"`
	RatePerHour        *float64 `json:"rate_per_hour"`
	EstimatedCost      *float64 `json:"estimated_cost"`
	ContingencyPercent float64  `json:"contingency_percent"`
	OverheadPercent    float64  `json:"overhead_percent"`
	FinalPrice         *float64 `json:"final_price"`
}

// Store is the mutex-guarded shot list for the loaded bid. Readers get
// copies, never references into the guarded slice.
type Store struct {
	mu    sync.Mutex
	shots []Shot
}

func NewStore() *Store {
	return &Store{}
}

// Shots returns a copy of all shots.
func (s *Store) Shots() []Shot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Shot, len(s.shots))
	copy(out, s.shots)
	return out
}

// SetShots replaces the loaded bid.
func (s *Store) SetShots(shots []Shot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shots = make([]Shot, len(shots))
	copy(s.shots, shots)
}

// Get returns the shot with the given id.
func (s *Store) Get(id string) (Shot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, shot := range s.shots {
		if shot.ID == id {
			return shot, nil
		}
	}
	return Shot{}, fmt.Errorf("shot %s not found", id)
}

// Update replaces the shot with the given id.
func (s *Store) Update(id string, updated Shot) (Shot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, shot := range s.shots {
		if shot.ID == id {
			s.shots[i] = updated
			return updated, nil
		}
	}
	return Shot{}, fmt.Errorf("shot %s not found", id)
}

// Add appends a shot to the loaded bid.
func (s *Store) Add(shot Shot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shots = append(s.shots, shot)
}

// Clear drops all shots.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shots = nil
}

// VFXCategories returns the sorted set of VFX types across all shots.
func (s *Store) VFXCategories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	for _, shot := range s.shots {
		for _, vt := range shot.VFXTypes {
			seen[vt] = true
		}
	}
	out := make([]string, 0, len(seen))
	for vt := range seen {
		out = append(out, vt)
	}
	sort.Strings(out)
	return out
}
