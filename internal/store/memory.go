package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"tinyassets/internal/rules"
)

type memPlayer struct {
	state      rules.GameState
	holdings   rules.Holdings
	events     []rules.EventRecord
	txs        []rules.Transaction
	production []rules.ProductionRecord
	badges     []rules.EarnedBadge
	missions   []rules.MissionProgress
}

type memKey struct {
	userID string
	key    string
}

// MemoryStore keeps everything in process. It backs tests and single-node
// development runs without DATABASE_URL.
type MemoryStore struct {
	mu      sync.RWMutex
	players map[string]*memPlayer
	idem    map[memKey]time.Time
	parents map[string]string
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		players: make(map[string]*memPlayer),
		idem:    make(map[memKey]time.Time),
		parents: make(map[string]string),
		now:     time.Now,
	}
}

func (s *MemoryStore) EnsureGameState(_ context.Context, init rules.GameState) (rules.GameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[init.UserID]; ok {
		return p.state, nil
	}
	s.players[init.UserID] = &memPlayer{state: init}
	return init, nil
}

func (s *MemoryStore) player(userID string) (*memPlayer, error) {
	p, ok := s.players[userID]
	if !ok {
		return nil, fmt.Errorf("game state for %q: %w", userID, ErrNotFound)
	}
	return p, nil
}

func (s *MemoryStore) GameState(_ context.Context, userID string) (rules.GameState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.player(userID)
	if err != nil {
		return rules.GameState{}, err
	}
	return p.state, nil
}

func (s *MemoryStore) Holdings(_ context.Context, userID string) (rules.Holdings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.player(userID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(p.holdings), nil
}

func (s *MemoryStore) Snapshot(_ context.Context, userID string) (rules.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.player(userID)
	if err != nil {
		return rules.Snapshot{}, err
	}
	return rules.Snapshot{
		State:        p.state,
		Holdings:     slices.Clone(p.holdings),
		Events:       slices.Clone(p.events),
		Transactions: slices.Clone(p.txs),
		Production:   slices.Clone(p.production),
		Badges:       slices.Clone(p.badges),
		Missions:     slices.Clone(p.missions),
	}, nil
}

func (s *MemoryStore) EventHistory(_ context.Context, userID string, limit int) ([]rules.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.player(userID)
	if err != nil {
		return nil, err
	}
	return newestFirst(p.events, limit), nil
}

func (s *MemoryStore) Transactions(_ context.Context, userID string, limit int) ([]rules.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.player(userID)
	if err != nil {
		return nil, err
	}
	return newestFirst(p.txs, limit), nil
}

func (s *MemoryStore) Production(_ context.Context, userID string, limit int) ([]rules.ProductionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.player(userID)
	if err != nil {
		return nil, err
	}
	return newestFirst(p.production, limit), nil
}

func (s *MemoryStore) Badges(_ context.Context, userID string) ([]rules.EarnedBadge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.player(userID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(p.badges), nil
}

func (s *MemoryStore) Missions(_ context.Context, userID string) ([]rules.MissionProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.player(userID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(p.missions), nil
}

func (s *MemoryStore) Commit(_ context.Context, c Commit) (rules.GameState, error) {
	c.assignIDs()
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.player(c.UserID)
	if err != nil {
		return rules.GameState{}, err
	}
	k := memKey{userID: c.UserID, key: c.IdempotencyKey}
	if c.IdempotencyKey != "" {
		if _, dup := s.idem[k]; dup {
			return rules.GameState{}, ErrDuplicateIdempotency
		}
	}
	if p.state.Version != c.ExpectedVersion {
		return rules.GameState{}, ErrVersionConflict
	}

	// Nothing below can fail, so the commit is all-or-nothing.
	if c.IdempotencyKey != "" {
		s.idem[k] = s.now()
	}
	state := c.State
	state.Version = c.ExpectedVersion + 1
	p.state = state
	p.holdings = nil
	for _, h := range c.Holdings {
		if h.Shares > 0 {
			p.holdings = append(p.holdings, h)
		}
	}
	p.txs = append(p.txs, c.Transactions...)
	p.events = append(p.events, c.Events...)
	p.production = append(p.production, c.Production...)
	for _, b := range c.Badges {
		if !slices.ContainsFunc(p.badges, func(have rules.EarnedBadge) bool { return have.BadgeID == b.BadgeID }) {
			p.badges = append(p.badges, b)
		}
	}
	for _, m := range c.Missions {
		i := slices.IndexFunc(p.missions, func(have rules.MissionProgress) bool { return have.ID == m.ID })
		if i >= 0 {
			p.missions[i] = m
		} else {
			p.missions = append(p.missions, m)
		}
	}
	return state, nil
}

func (s *MemoryStore) SaveParentPIN(_ context.Context, userID, hash string, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.player(userID); err != nil {
		return err
	}
	if _, ok := s.parents[userID]; ok && !replace {
		return ErrExists
	}
	s.parents[userID] = hash
	return nil
}

func (s *MemoryStore) ParentPINHash(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.parents[userID]
	if !ok {
		return "", fmt.Errorf("parent access for %q: %w", userID, ErrNotFound)
	}
	return hash, nil
}

func (s *MemoryStore) PurgeIdempotencyKeys(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, at := range s.idem {
		if at.Before(before) {
			delete(s.idem, k)
			n++
		}
	}
	return n, nil
}
