package casestore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/roster-validator/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// forEachStore runs fn against every embedded Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestSQLiteStore(t)) })
}

func sampleCase(headers []string, auto bool) model.Case {
	return model.Case{
		RecordType: model.RecordActive,
		Headers:    headers,
		Mappings:   map[string]string{headers[0]: "사원번호"},
		Outcome: model.CaseOutcome{
			Decision:     model.DecisionAutoCorrect,
			Overall:      0.88,
			AutoApproved: auto,
		},
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestStore_UpsertCaseIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c := sampleCase([]string{"사번", "성명", "생년월일"}, true)

		require.NoError(t, s.UpsertCase(ctx, c))
		require.NoError(t, s.UpsertCase(ctx, c))

		got, err := s.GetCase(ctx, model.CaseID(c.Headers))
		require.NoError(t, err)
		assert.Equal(t, c.Headers, got.Headers)
		assert.Equal(t, "사원번호", got.Mappings["사번"])
		assert.True(t, got.Outcome.AutoApproved)

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, st.Total)
		assert.Equal(t, 1, st.AutoApproved)
	})
}

func TestStore_GetCaseNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetCase(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_UpsertCaseRequiresHeaders(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		err := s.UpsertCase(context.Background(), model.Case{})
		require.Error(t, err)
	})
}

func TestStore_FindSimilarCases(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.UpsertCase(ctx, sampleCase([]string{"사번", "성명", "생년월일", "입사일"}, true)))
		require.NoError(t, s.UpsertCase(ctx, sampleCase([]string{"사번", "성명", "부서"}, false)))
		require.NoError(t, s.UpsertCase(ctx, sampleCase([]string{"x", "y", "z"}, true)))

		matches, err := s.FindSimilarCases(ctx, []string{"사번", "성명", "생년월일"}, DefaultMinOverlap, 5)
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.InDelta(t, 0.75, matches[0].Similarity, 0.0001)
		assert.Contains(t, matches[0].Case.Headers, "입사일")
		assert.InDelta(t, 0.5, matches[1].Similarity, 0.0001)

		limited, err := s.FindSimilarCases(ctx, []string{"사번", "성명", "생년월일"}, DefaultMinOverlap, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}

func TestStore_HeaderMappings(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, ok, err := s.LookupHeader(ctx, model.RecordActive, "직원 코드")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.UpsertHeaderMapping(ctx, model.RecordActive, "직원 코드", "사원번호"))
		require.NoError(t, s.UpsertHeaderMapping(ctx, model.RecordActive, "직원코드", "사원번호"))

		field, ok, err := s.LookupHeader(ctx, model.RecordActive, "직원_코드")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "사원번호", field)

		_, ok, err = s.LookupHeader(ctx, model.RecordRetired, "직원 코드")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_UpsertPatternMergesProvenance(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p := model.LearnedPattern{
			Code:        "hire_age_outlier",
			Conditions:  []model.Condition{{Field: "직급", Op: model.OpEq, Value: "임원"}},
			Effect:      model.Effect{Kind: model.EffectSuppress},
			SourceCases: []string{"case-a"},
		}
		require.NoError(t, s.UpsertPattern(ctx, p))
		p.SourceCases = []string{"case-b", "case-a"}
		require.NoError(t, s.UpsertPattern(ctx, p))

		list, err := s.ListPatterns(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, model.PatternID(p.Code, p.Conditions, p.Effect), list[0].ID)
		assert.ElementsMatch(t, []string{"case-a", "case-b"}, list[0].SourceCases)
		assert.Contains(t, list[0].Description, "직급 = 임원")
		assert.Equal(t, model.EffectSuppress, list[0].Effect.Kind)

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, st.Patterns)
	})
}

func TestStore_UpsertPatternRequiresCode(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		require.Error(t, s.UpsertPattern(context.Background(), model.LearnedPattern{}))
	})
}

func TestStore_FixOutcomes(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		st, err := s.FixStats(ctx, "gender_long_form")
		require.NoError(t, err)
		assert.Equal(t, 0, st.Attempts)
		assert.InDelta(t, 0.5, st.Rate(0.5), 0.0001)

		require.NoError(t, s.RecordFixOutcome(ctx, "gender_long_form", true))
		require.NoError(t, s.RecordFixOutcome(ctx, "gender_long_form", true))
		require.NoError(t, s.RecordFixOutcome(ctx, "gender_long_form", false))

		st, err = s.FixStats(ctx, "gender_long_form")
		require.NoError(t, err)
		assert.Equal(t, 3, st.Attempts)
		assert.Equal(t, 2, st.Successes)
		assert.InDelta(t, 2.0/3.0, st.Rate(0.5), 0.0001)
	})
}

func TestStore_ManualCorrectedStats(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c := sampleCase([]string{"a", "b"}, false)
		c.Outcome.HumanCorrections = 2
		require.NoError(t, s.UpsertCase(ctx, c))

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, st.ManualCorrected)
		assert.Equal(t, 0, st.AutoApproved)
	})
}

func TestMemoryStore_ConcurrentWrites(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RecordFixOutcome(ctx, "code", true)
			_ = s.UpsertHeaderMapping(ctx, model.RecordActive, "h", "f")
			_, _ = s.ListPatterns(ctx)
		}()
	}
	wg.Wait()
	st, err := s.FixStats(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, 20, st.Attempts)
}
