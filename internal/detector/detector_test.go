package detector

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	apperrors "github.com/kurihiro0119/issue-watch-bots/internal/errors"
	"github.com/kurihiro0119/issue-watch-bots/internal/forge"
)

var (
	tracker = &domain.Tracker{Name: "csr", Project: "openjdk/csr-issues", Label: "csr"}
	base    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

func newDetector(t *testing.T) (*Detector, *forge.Memory) {
	t.Helper()
	mem := forge.NewMemory()
	src, err := mem.IssueSource(tracker)
	require.NoError(t, err)
	return New("test", src, nil), mem
}

func ids(issues []*domain.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.ID)
	}
	return out
}

// staticSource returns fixed results, for malformed-entity cases the memory
// forge cannot produce
type staticSource struct {
	latest *domain.Issue
	window []*domain.Issue
	err    error
}

func (s *staticSource) MostRecentlyUpdated(context.Context) (*domain.Issue, error) {
	return s.latest, s.err
}

func (s *staticSource) UpdatedSince(context.Context, time.Time) ([]*domain.Issue, error) {
	return s.window, s.err
}

func TestBootstrap_EmptySource(t *testing.T) {
	d, _ := newDetector(t)

	changed, err := d.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changed)

	state := d.State()
	assert.True(t, state.Initialized)
	assert.True(t, state.HighWaterMark.Equal(Epoch))
	assert.Empty(t, state.LastSeen)
}

func TestBootstrap_NeverEmits(t *testing.T) {
	d, mem := newDetector(t)
	mem.PutIssue(tracker, domain.Issue{ID: "I1", UpdatedAt: at(1)})
	mem.PutIssue(tracker, domain.Issue{ID: "I2", UpdatedAt: at(5)})
	mem.PutIssue(tracker, domain.Issue{ID: "I3", UpdatedAt: at(3)})

	changed, err := d.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changed)

	state := d.State()
	assert.True(t, state.HighWaterMark.Equal(at(5)))
	assert.Equal(t, map[string]time.Time{"I2": at(5)}, state.LastSeen)
}

func TestPoll_NewSiblingAfterBootstrap(t *testing.T) {
	d, mem := newDetector(t)
	mem.PutIssue(tracker, domain.Issue{ID: "I1", UpdatedAt: at(1)})

	_, err := d.PollOnce(context.Background())
	require.NoError(t, err)

	mem.PutIssue(tracker, domain.Issue{ID: "I2", UpdatedAt: at(2)})

	changed, err := d.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"I2"}, ids(changed))
	assert.True(t, d.State().HighWaterMark.Equal(at(2)))
}

func TestPoll_UnchangedIsNotReemitted(t *testing.T) {
	d, mem := newDetector(t)
	mem.PutIssue(tracker, domain.Issue{ID: "I1", UpdatedAt: at(1)})

	_, err := d.PollOnce(context.Background())
	require.NoError(t, err)
	before := d.State()

	for i := 0; i < 3; i++ {
		changed, err := d.PollOnce(context.Background())
		require.NoError(t, err)
		assert.Empty(t, changed)
		assert.Equal(t, before.LastSeen, d.State().LastSeen)
	}
}

func TestPoll_UpdatedEntityEmitsOnce(t *testing.T) {
	d, mem := newDetector(t)
	mem.PutIssue(tracker, domain.Issue{ID: "I1", UpdatedAt: at(1)})

	_, err := d.PollOnce(context.Background())
	require.NoError(t, err)

	mem.PutIssue(tracker, domain.Issue{ID: "I1", UpdatedAt: at(3)})

	changed, err := d.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"I1"}, ids(changed))

	changed, err = d.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestPoll_FirstSeenAfterEpochBootstrap(t *testing.T) {
	d, mem := newDetector(t)

	_, err := d.PollOnce(context.Background())
	require.NoError(t, err)

	mem.PutIssue(tracker, domain.Issue{ID: "I1", UpdatedAt: at(1)})
	mem.PutIssue(tracker, domain.Issue{ID: "I2", UpdatedAt: at(1)})

	changed, err := d.PollOnce(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"I1", "I2"}, ids(changed))
}

func TestPoll_ColdEntityDropsOutOfSnapshot(t *testing.T) {
	d, mem := newDetector(t)
	mem.PutIssue(tracker, domain.Issue{ID: "I1", UpdatedAt: at(1)})
	_, err := d.PollOnce(context.Background())
	require.NoError(t, err)

	mem.PutIssue(tracker, domain.Issue{ID: "I2", UpdatedAt: at(2)})
	_, err = d.PollOnce(context.Background())
	require.NoError(t, err)

	// The mark moved to at(2), so I1 is no longer in the window
	state := d.State()
	assert.Equal(t, map[string]time.Time{"I2": at(2)}, state.LastSeen)

	mem.PutIssue(tracker, domain.Issue{ID: "I1", UpdatedAt: at(4)})
	changed, err := d.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"I1"}, ids(changed))
}

func TestPoll_SameSecondSiblingAtMark(t *testing.T) {
	d, mem := newDetector(t)
	mem.PutIssue(tracker, domain.Issue{ID: "I1", UpdatedAt: at(1)})
	_, err := d.PollOnce(context.Background())
	require.NoError(t, err)

	// A sibling stamped with exactly the mark is only found because the
	// window is inclusive
	mem.PutIssue(tracker, domain.Issue{ID: "I2", UpdatedAt: at(1)})
	changed, err := d.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"I2"}, ids(changed))
}

func TestPoll_SameTimestampEditIsMissed(t *testing.T) {
	d, mem := newDetector(t)
	mem.PutIssue(tracker, domain.Issue{ID: "I1", Title: "v1", UpdatedAt: at(1)})
	_, err := d.PollOnce(context.Background())
	require.NoError(t, err)

	// Second edit within the same timestamp tick
	mem.PutIssue(tracker, domain.Issue{ID: "I1", Title: "v2", UpdatedAt: at(1)})
	changed, err := d.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changed)

	mem.PutIssue(tracker, domain.Issue{ID: "I1", Title: "v3", UpdatedAt: at(2)})
	changed, err = d.PollOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "v3", changed[0].Title)
}

func TestPoll_QueryFailureLeavesStateUnchanged(t *testing.T) {
	d, mem := newDetector(t)
	mem.PutIssue(tracker, domain.Issue{ID: "I1", UpdatedAt: at(1)})
	_, err := d.PollOnce(context.Background())
	require.NoError(t, err)
	before := d.State()

	mem.PutIssue(tracker, domain.Issue{ID: "I2", UpdatedAt: at(2)})
	mem.FailNext(tracker.Key(), apperrors.NewTransientError("timeout", nil))

	changed, err := d.PollOnce(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.Nil(t, changed)
	assert.Equal(t, before, d.State())

	// The next successful poll still reports the change
	changed, err = d.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"I2"}, ids(changed))
}

func TestPoll_BootstrapFailureStaysUninitialized(t *testing.T) {
	d, mem := newDetector(t)
	mem.PutIssue(tracker, domain.Issue{ID: "I1", UpdatedAt: at(1)})
	mem.FailNext(tracker.Key(), errors.New("connection refused"))

	_, err := d.PollOnce(context.Background())
	require.Error(t, err)
	assert.False(t, d.State().Initialized)

	changed, err := d.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.True(t, d.State().Initialized)
}

func TestPoll_MalformedEntityFailsWholePoll(t *testing.T) {
	state := State{
		Initialized:   true,
		HighWaterMark: at(1),
		LastSeen:      map[string]time.Time{"I1": at(1)},
	}

	tests := []struct {
		name   string
		window []*domain.Issue
	}{
		{"missing id", []*domain.Issue{{ID: "I9", UpdatedAt: at(9)}, {ID: "", UpdatedAt: at(2)}}},
		{"missing timestamp", []*domain.Issue{{ID: "I9", UpdatedAt: at(9)}, {ID: "I2"}}},
		{"nil entry", []*domain.Issue{{ID: "I9", UpdatedAt: at(9)}, nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, changed, err := Poll(context.Background(), &staticSource{window: tt.window}, state)
			require.Error(t, err)
			assert.True(t, apperrors.IsMalformed(err))
			assert.Nil(t, changed)
			// The mark must not have moved to I9's timestamp
			assert.Equal(t, state, next)
		})
	}
}

func TestPoll_MalformedBootstrapEntity(t *testing.T) {
	_, _, err := Poll(context.Background(), &staticSource{latest: &domain.Issue{ID: "I1"}}, State{})
	assert.True(t, apperrors.IsMalformed(err))
}

func TestPoll_DoesNotMutateInputState(t *testing.T) {
	state := State{
		Initialized:   true,
		HighWaterMark: at(1),
		LastSeen:      map[string]time.Time{"I1": at(1)},
	}
	snapshot := state.Clone()

	next, _, err := Poll(context.Background(), &staticSource{window: []*domain.Issue{
		{ID: "I1", UpdatedAt: at(1)},
		{ID: "I2", UpdatedAt: at(7)},
	}}, state)
	require.NoError(t, err)

	assert.Equal(t, snapshot, state)
	assert.True(t, next.HighWaterMark.Equal(at(7)))
}

func TestPoll_CancelledContext(t *testing.T) {
	d, mem := newDetector(t)
	mem.PutIssue(tracker, domain.Issue{ID: "I1", UpdatedAt: at(1)})
	_, err := d.PollOnce(context.Background())
	require.NoError(t, err)
	before := d.State()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.PollOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, d.State())
}

// TestPoll_RandomizedHistory drives the detector through random edits and
// checks that every strictly newer timestamp of an issue in the window is
// reported exactly once and the mark never goes backwards.
func TestPoll_RandomizedHistory(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	d, mem := newDetector(t)

	current := map[string]time.Time{}
	clock := 0
	for i := 0; i < 5; i++ {
		clock++
		id := "I" + strconv.Itoa(i)
		current[id] = at(clock)
		mem.PutIssue(tracker, domain.Issue{ID: id, UpdatedAt: at(clock)})
	}

	_, err := d.PollOnce(context.Background())
	require.NoError(t, err)

	reported := map[string]time.Time{}
	for id, ts := range current {
		reported[id] = ts
	}
	prevMark := d.State().HighWaterMark

	for round := 0; round < 200; round++ {
		edits := rng.Intn(3)
		for e := 0; e < edits; e++ {
			clock++
			id := "I" + strconv.Itoa(rng.Intn(8))
			current[id] = at(clock)
			mem.PutIssue(tracker, domain.Issue{ID: id, UpdatedAt: at(clock)})
		}

		changed, err := d.PollOnce(context.Background())
		require.NoError(t, err)

		seenThisPoll := map[string]bool{}
		for _, issue := range changed {
			assert.False(t, seenThisPoll[issue.ID], "duplicate emission of %s", issue.ID)
			seenThisPoll[issue.ID] = true
			assert.True(t, issue.UpdatedAt.After(reported[issue.ID]), "stale emission of %s", issue.ID)
			reported[issue.ID] = issue.UpdatedAt
		}

		for id, ts := range current {
			assert.True(t, reported[id].Equal(ts), "change of %s at %v not reported", id, ts)
		}

		mark := d.State().HighWaterMark
		assert.False(t, mark.Before(prevMark))
		prevMark = mark
	}
}

func TestPoll_RepeatedIssueCountsOnce(t *testing.T) {
	src := &staticSource{window: []*domain.Issue{
		{ID: "7", UpdatedAt: at(1)},
		{ID: "8", UpdatedAt: at(2)},
		{ID: "7", UpdatedAt: at(3)},
		{ID: "7", UpdatedAt: at(2)},
	}}
	state := State{Initialized: true, HighWaterMark: at(0), LastSeen: map[string]time.Time{}}

	next, changed, err := Poll(context.Background(), src, state)
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "8"}, ids(changed))
	assert.True(t, changed[0].UpdatedAt.Equal(at(3)))
	assert.True(t, next.LastSeen["7"].Equal(at(3)))
	assert.True(t, next.HighWaterMark.Equal(at(3)))
}
