package chainevents

import (
	"sync"

	"BloodBank-Chain/internal/bloodbank"
)

const defaultDedupWindow = 4096

// Stats 记录已处理事件的计数，供 /api/chain/events 展示。
type Stats struct {
	mu         sync.Mutex
	total      uint64
	removed    uint64
	duplicates uint64
	byKind     map[bloodbank.EventKind]uint64
	last       *Envelope

	window int
	seen   map[string]struct{}
	order  []string
}

// StatsSnapshot 是 Stats 的只读副本。
type StatsSnapshot struct {
	Total      uint64            `json:"total"`
	Removed    uint64            `json:"removed"`
	Duplicates uint64            `json:"duplicates"`
	ByKind     map[string]uint64 `json:"byKind"`
	Last       *Envelope         `json:"last"`
}

func newStats(window int) *Stats {
	return &Stats{
		byKind: make(map[bloodbank.EventKind]uint64),
		window: window,
		seen:   make(map[string]struct{}, window),
	}
}

// record 统计一条事件，重复投递的日志返回 false。
func (s *Stats) record(env Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := env.Key()
	if env.Event.Removed {
		key += ":removed"
	}
	if _, dup := s.seen[key]; dup {
		s.duplicates++
		return false
	}
	s.seen[key] = struct{}{}
	s.order = append(s.order, key)
	if len(s.order) > s.window {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
	if env.Event.Removed {
		s.removed++
	} else {
		s.total++
		s.byKind[env.Event.Kind]++
	}
	last := env
	s.last = &last
	return true
}

// Snapshot 返回当前计数。
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := StatsSnapshot{
		Total:      s.total,
		Removed:    s.removed,
		Duplicates: s.duplicates,
		ByKind:     make(map[string]uint64, len(bloodbank.EventKinds)),
	}
	for _, kind := range bloodbank.EventKinds {
		out.ByKind[string(kind)] = s.byKind[kind]
	}
	if s.last != nil {
		last := *s.last
		out.Last = &last
	}
	return out
}
