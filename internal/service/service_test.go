package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/events"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/intervention"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/logging"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/memstore"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/scoring"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/service"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/workspace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	day   = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	clock = func() time.Time { return day.Add(6 * time.Hour) }
)

func newService(store *memstore.Store, scorer service.Scorer) *service.Service {
	log := logging.Nop()
	if scorer == nil {
		scorer = scoring.NewEngine(store, store, events.NewEmitter(store, log), log).WithClock(clock)
	}
	svc := service.New(
		workspace.NewResolver(store, log),
		scorer,
		intervention.NewEngine(store, log).WithClock(clock),
		store,
		log,
	)
	svc.Now = clock
	return svc
}

type failingScorer struct {
	service.Scorer
	fail map[string]bool
}

func (s failingScorer) Compute(ctx context.Context, scope models.Scope, date time.Time) (models.DailyScore, error) {
	if s.fail[scope.UserID] {
		return models.DailyScore{}, errors.New("facts unavailable")
	}
	return s.Scorer.Compute(ctx, scope, date)
}

func TestRunAllUsersRecordsDegradedJob(t *testing.T) {
	store := memstore.New()
	for _, id := range []string{"u1", "u2", "u3"} {
		store.AddUser(id)
	}
	base := scoring.NewEngine(store, store, nil, logging.Nop())
	svc := newService(store, failingScorer{Scorer: base, fail: map[string]bool{"u2": true}})

	res, err := svc.Run(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 1, res.Failed)
	assert.Nil(t, res.Results)

	for _, id := range []string{"u1", "u3"} {
		_, err := store.DailyScore(context.Background(), id, day)
		assert.NoError(t, err, id)
	}

	runs := store.JobRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, service.JobDailyScores, runs[0].Job)
	assert.Equal(t, models.JobDegraded, runs[0].Status)
	assert.Equal(t, "1/3 users failed", runs[0].Message)
	assert.Equal(t, day, runs[0].RunDate)
}

func TestRunSingleUserIncludesResult(t *testing.T) {
	store := memstore.New()
	svc := newService(store, nil)

	res, err := svc.Run(context.Background(), day, "u1")
	require.NoError(t, err)
	require.Len(t, res.Results, 1)

	r := res.Results[0]
	assert.True(t, r.Success)
	assert.NotEmpty(t, r.WorkspaceID)
	require.NotNil(t, r.Score)
	assert.Equal(t, day, r.Score.Date)
	assert.Len(t, r.Rules, len(intervention.Rules))
	assert.Equal(t, models.JobSuccess, store.JobRuns()[0].Status)
}

func TestRunIsIdempotentPerDate(t *testing.T) {
	store := memstore.New()
	store.AddUser("u1")
	svc := newService(store, nil)

	_, err := svc.Run(context.Background(), day)
	require.NoError(t, err)
	first, err := store.DailyScore(context.Background(), "u1", day)
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), day)
	require.NoError(t, err)
	second, err := store.DailyScore(context.Background(), "u1", day)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, store.Workspaces(), 1)
}

type blockingScorer struct{}

func (blockingScorer) Compute(ctx context.Context, _ models.Scope, _ time.Time) (models.DailyScore, error) {
	<-ctx.Done()
	return models.DailyScore{}, ctx.Err()
}

func TestUserTimeoutIsRecordedAsFailure(t *testing.T) {
	store := memstore.New()
	svc := newService(store, blockingScorer{})
	svc.UserTimeout = 10 * time.Millisecond

	res, err := svc.Run(context.Background(), day, "slow-user")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Results[0].Error, "deadline exceeded")
	assert.Equal(t, models.JobFailed, store.JobRuns()[0].Status)
}

func TestCancelledRunSkipsRemainingUsers(t *testing.T) {
	store := memstore.New()
	for i := 0; i < 5; i++ {
		store.AddUser(fmt.Sprintf("u%d", i))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newService(store, nil).Run(ctx, day)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, res.Processed)
	runs := store.JobRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, models.JobCancelled, runs[0].Status)
}

type countingScorer struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	calls   atomic.Int32
}

func (s *countingScorer) Compute(_ context.Context, scope models.Scope, date time.Time) (models.DailyScore, error) {
	s.mu.Lock()
	s.active++
	if s.active > s.maxSeen {
		s.maxSeen = s.active
	}
	s.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	s.calls.Add(1)

	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return models.DailyScore{UserID: scope.UserID, WorkspaceID: scope.WorkspaceID, Date: date}, nil
}

func TestRunBoundsConcurrency(t *testing.T) {
	store := memstore.New()
	for i := 0; i < 12; i++ {
		store.AddUser(fmt.Sprintf("u%02d", i))
	}
	scorer := &countingScorer{}
	svc := newService(store, scorer)
	svc.Workers = 3

	res, err := svc.Run(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 12, res.Successful)
	assert.Equal(t, int32(12), scorer.calls.Load())
	assert.LessOrEqual(t, scorer.maxSeen, 3)
}

func TestRunListFailure(t *testing.T) {
	store := memstore.New()
	store.FailOn("ListUserIDs", errors.New("boom"))

	_, err := newService(store, nil).Run(context.Background(), day)
	assert.Error(t, err)
	assert.Empty(t, store.JobRuns())
}

func TestJobStatus(t *testing.T) {
	assert.Equal(t, models.JobSuccess, service.JobStatus(service.BatchResult{Processed: 0}, false))
	assert.Equal(t, models.JobSuccess, service.JobStatus(service.BatchResult{Processed: 2, Successful: 2}, false))
	assert.Equal(t, models.JobDegraded, service.JobStatus(service.BatchResult{Processed: 2, Successful: 1, Failed: 1}, false))
	assert.Equal(t, models.JobFailed, service.JobStatus(service.BatchResult{Processed: 2, Failed: 2}, false))
	assert.Equal(t, models.JobCancelled, service.JobStatus(service.BatchResult{Processed: 2, Successful: 2}, true))
}

func TestRunWithoutDateUsesUserLocalToday(t *testing.T) {
	store := memstore.New()
	// 21:30 on 2026-03-09 in New York, already 2026-03-10 in UTC.
	now := time.Date(2026, 3, 10, 1, 30, 0, 0, time.UTC)
	at := func() time.Time { return now }
	log := logging.Nop()

	store.AddUser("u1")
	store.SetPreferences(models.Preferences{UserID: "u1", DailyCapacityMinutes: 480, Timezone: "America/New_York"})
	store.AddHabit(models.Habit{ID: "h1", UserID: "u1", Name: "Read", IsActive: true, CurrentStreak: 10})

	engine := intervention.NewEngine(store, log).WithClock(at)
	svc := service.New(
		workspace.NewResolver(store, log),
		scoring.NewEngine(store, store, nil, log).WithClock(at),
		engine,
		store,
		log,
	)
	svc.Now = at
	svc.Calendar = engine

	res, err := svc.Run(context.Background(), time.Time{}, "u1")
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	r := res.Results[0]
	require.True(t, r.Success, r.Error)
	assert.Equal(t, "2026-03-09", r.Date)

	local := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	_, err = store.DailyScore(context.Background(), "u1", local)
	assert.NoError(t, err)

	var streak *models.Intervention
	for i := range r.Interventions {
		if r.Interventions[i].Type == models.InterventionStreakProtection {
			streak = &r.Interventions[i]
		}
	}
	require.NotNil(t, streak, "rules: %+v", r.Rules)
	assert.Equal(t, local, streak.Date)

	runs := store.JobRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, models.Day(now), runs[0].RunDate)
}
