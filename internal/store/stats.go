package store

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"
)

type (
	// Stats is a dashboard counter snapshot. Only numeric fields are kept
	Stats map[string]float64

	// StatsState keeps the last plausible stats snapshot
	StatsState struct {
		mu       sync.RWMutex
		lastGood Stats
		rejected int
	}
)

// DecodeStats parses a stats object, keeping its numeric fields
func DecodeStats(data []byte) (Stats, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotObject, err)
	}
	if raw == nil {
		return nil, ErrNotObject
	}
	res := Stats{}
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			res[k] = f
		}
	}
	return res, nil
}

// PlausibleStats reports whether next may replace prev. Negative counters
// are never plausible, and an all-zero snapshot may not replace one that
// had data
func PlausibleStats(prev, next Stats) bool {
	if len(next) == 0 {
		return false
	}
	for _, v := range next {
		if v < 0 {
			return false
		}
	}
	if allZero(next) && len(prev) > 0 && !allZero(prev) {
		return false
	}
	return true
}

// Apply stores next if it is plausible and reports whether it was taken
func (s *StatsState) Apply(next Stats) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !PlausibleStats(s.lastGood, next) {
		s.rejected++
		return false
	}
	s.lastGood = maps.Clone(next)
	return true
}

// Snapshot returns the last good stats, or nil before the first one
func (s *StatsState) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.lastGood)
}

// Rejected returns how many snapshots were refused
func (s *StatsState) Rejected() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rejected
}

func allZero(s Stats) bool {
	for _, v := range s {
		if v != 0 {
			return false
		}
	}
	return true
}
