package casestore

import (
	"context"
	"sort"
	"sync"

	"github.com/sells-group/roster-validator/internal/model"
)

// MemoryStore implements Store with in-process maps.
type MemoryStore struct {
	mu       sync.RWMutex
	cases    map[string]model.Case
	headers  map[model.RecordType]map[string]string
	patterns map[string]model.LearnedPattern
	fixes    map[string]model.FixStats
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		cases:    make(map[string]model.Case),
		headers:  make(map[model.RecordType]map[string]string),
		patterns: make(map[string]model.LearnedPattern),
		fixes:    make(map[string]model.FixStats),
	}
}

func (s *MemoryStore) UpsertCase(_ context.Context, c model.Case) error {
	c, err := prepareCase(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[c.ID] = c
	return nil
}

func (s *MemoryStore) GetCase(_ context.Context, id string) (*model.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) FindSimilarCases(_ context.Context, headers []string, minOverlap float64, limit int) ([]model.CaseMatch, error) {
	s.mu.RLock()
	all := make([]model.Case, 0, len(s.cases))
	for _, c := range s.cases {
		all = append(all, c)
	}
	s.mu.RUnlock()
	return rankMatches(all, headers, minOverlap, limit), nil
}

func (s *MemoryStore) UpsertHeaderMapping(_ context.Context, rt model.RecordType, header, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.headers[rt]
	if !ok {
		m = make(map[string]string)
		s.headers[rt] = m
	}
	m[HeaderKey(header)] = field
	return nil
}

func (s *MemoryStore) LookupHeader(_ context.Context, rt model.RecordType, header string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.headers[rt][HeaderKey(header)]
	return f, ok, nil
}

func (s *MemoryStore) UpsertPattern(_ context.Context, p model.LearnedPattern) error {
	p, err := preparePattern(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.patterns[p.ID]; ok {
		p = mergePattern(existing, p)
	}
	s.patterns[p.ID] = p
	return nil
}

func (s *MemoryStore) ListPatterns(_ context.Context) ([]model.LearnedPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.LearnedPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) RecordFixOutcome(_ context.Context, code string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.fixes[code]
	st.Code = code
	st.Attempts++
	if success {
		st.Successes++
	}
	s.fixes[code] = st
	return nil
}

func (s *MemoryStore) FixStats(_ context.Context, code string) (model.FixStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.fixes[code]
	if !ok {
		return model.FixStats{Code: code}, nil
	}
	return st, nil
}

func (s *MemoryStore) Stats(_ context.Context) (model.CaseStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := model.CaseStats{Total: len(s.cases), Patterns: len(s.patterns)}
	for _, c := range s.cases {
		if c.Outcome.AutoApproved {
			st.AutoApproved++
		}
		if c.Outcome.HumanCorrections > 0 {
			st.ManualCorrected++
		}
	}
	return st, nil
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
