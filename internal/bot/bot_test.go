package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	apperrors "github.com/kurihiro0119/issue-watch-bots/internal/errors"
	"github.com/kurihiro0119/issue-watch-bots/internal/forge"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestIssueBot_EmitsOneWorkUnitPerChange(t *testing.T) {
	mem := forge.NewMemory()
	mem.PutIssue(csr, domain.Issue{ID: "100", Number: 100, Title: "CSR one", UpdatedAt: t0})

	bots, err := Compose([]Entry{{Repository: jdk, Tracker: csr}, {Repository: jdk21u, Tracker: csr}}, mem, nil)
	require.NoError(t, err)
	issueBot := bots[0].(*IssueBot)

	units, err := issueBot.PeriodicWork(context.Background())
	require.NoError(t, err)
	assert.Empty(t, units, "bootstrap must not emit")

	mem.PutIssue(csr, domain.Issue{ID: "101", Number: 101, Title: "CSR two", URL: "https://example/101", UpdatedAt: t0.Add(time.Second)})

	units, err = issueBot.PeriodicWork(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 1)

	unit := units[0]
	assert.NotEmpty(t, unit.ID)
	assert.Equal(t, domain.WorkKindIssue, unit.Kind)
	assert.Equal(t, issueBot.Name(), unit.Bot)
	assert.Equal(t, csr.Key(), unit.Tracker)
	assert.Equal(t, "101", unit.EntityID)
	assert.Equal(t, "CSR two", unit.Title)
	assert.Equal(t, []string{"openjdk/jdk", "openjdk/jdk21u"}, unit.Repositories)
	assert.True(t, unit.EntityUpdatedAt.Equal(t0.Add(time.Second)))

	snap := issueBot.Snapshot()
	assert.True(t, snap.Initialized)
	assert.Equal(t, PhaseDetector, snap.Phase)
	assert.Equal(t, 2, snap.LastSeen)
	assert.True(t, snap.HighWaterMark.Equal(t0.Add(time.Second)))
}

func TestIssueBot_ErrorIsWrapped(t *testing.T) {
	mem := forge.NewMemory()
	src, err := mem.IssueSource(csr)
	require.NoError(t, err)
	b := NewIssueBot(csr, src, []*domain.Repository{jdk}, nil)

	mem.FailNext(csr.Key(), apperrors.NewTransientError("timeout", nil))
	units, err := b.PeriodicWork(context.Background())
	require.Error(t, err)
	assert.Nil(t, units)
	assert.True(t, apperrors.IsTransient(err))
	assert.Contains(t, err.Error(), "poll openjdk/csr-issues")
}

func TestPullRequestBot_InitialScanThenChangesOnly(t *testing.T) {
	mem := forge.NewMemory()
	mem.PutPullRequest(jdk, domain.PullRequest{Number: 1, Title: "first", UpdatedAt: t0})
	mem.PutPullRequest(jdk, domain.PullRequest{Number: 2, Title: "second", UpdatedAt: t0})

	src, err := mem.PullRequestSource(jdk)
	require.NoError(t, err)
	b := NewPullRequestBot(jdk, csr, src)
	assert.Equal(t, "PullRequestBot@openjdk/jdk", b.Name())
	assert.Equal(t, PhaseDependent, b.Phase())

	units, err := b.PeriodicWork(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, domain.WorkKindPullRequest, units[0].Kind)
	assert.Equal(t, "openjdk/jdk", units[0].Repository)
	assert.Equal(t, "1", units[0].EntityID)

	units, err = b.PeriodicWork(context.Background())
	require.NoError(t, err)
	assert.Empty(t, units)

	mem.PutPullRequest(jdk, domain.PullRequest{Number: 2, Title: "second", UpdatedAt: t0.Add(time.Minute)})
	mem.PutPullRequest(jdk, domain.PullRequest{Number: 3, Title: "third", UpdatedAt: t0})
	mem.ClosePullRequest(jdk, 1)

	units, err = b.PeriodicWork(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "2", units[0].EntityID)
	assert.Equal(t, "3", units[1].EntityID)

	snap := b.Snapshot()
	assert.True(t, snap.Initialized)
	assert.Equal(t, 2, snap.LastSeen)
	assert.Equal(t, csr.Key(), snap.Tracker)
}

func TestPullRequestBot_FailureKeepsSnapshot(t *testing.T) {
	mem := forge.NewMemory()
	mem.PutPullRequest(jdk, domain.PullRequest{Number: 1, UpdatedAt: t0})
	src, err := mem.PullRequestSource(jdk)
	require.NoError(t, err)
	b := NewPullRequestBot(jdk, csr, src)

	_, err = b.PeriodicWork(context.Background())
	require.NoError(t, err)

	mem.FailNext(jdk.FullName, apperrors.NewTransientError("timeout", nil))
	_, err = b.PeriodicWork(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan openjdk/jdk")

	units, err := b.PeriodicWork(context.Background())
	require.NoError(t, err)
	assert.Empty(t, units)
}
