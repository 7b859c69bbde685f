package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillbox/pkg/sop"
	"github.com/jingkaihe/skillbox/pkg/testutil"
)

type fakeExecutor struct {
	tasks []sop.Task
	fail  map[string]error
}

func (f *fakeExecutor) Execute(_ context.Context, task sop.Task) (string, error) {
	f.tasks = append(f.tasks, task)
	if err := f.fail[task.Command]; err != nil {
		return "partial", err
	}
	return "ran " + task.Command, nil
}

func newScheduler(t *testing.T) (*Scheduler, *testutil.Clock) {
	clock := testutil.NewClock(time.Date(2026, 5, 4, 12, 2, 0, 0, time.UTC))
	s := New(testutil.OpenDB(t))
	s.now = clock.Now
	return s, clock
}

func TestParseAt(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 2, 0, 0, time.UTC)
	tests := []struct {
		value string
		want  time.Time
		err   string
	}{
		{value: "+30m", want: now.Add(30 * time.Minute)},
		{value: "in 2h", want: now.Add(2 * time.Hour)},
		{value: "18:30", want: time.Date(2026, 5, 4, 18, 30, 0, 0, time.UTC)},
		{value: "09:00", want: time.Date(2026, 5, 5, 9, 0, 0, 0, time.UTC)},
		{value: "2026-06-01 08:15", want: time.Date(2026, 6, 1, 8, 15, 0, 0, time.UTC)},
		{value: "2026-06-01T08:15:00+02:00", want: time.Date(2026, 6, 1, 6, 15, 0, 0, time.UTC)},
		{value: "+-5m", err: `invalid offset "+-5m"`},
		{value: "tomorrow", err: `invalid time "tomorrow"`},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseAt(tt.value, now)
			if tt.err != "" {
				assert.EqualError(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestAddValidation(t *testing.T) {
	s, clock := newScheduler(t)
	ctx := context.Background()
	past := clock.Now().Add(-time.Minute)
	future := clock.Now().Add(time.Hour)

	tests := []struct {
		name string
		job  Job
		err  string
	}{
		{name: "missing name", job: Job{Command: "true", Cron: "@hourly"}, err: "job name is required"},
		{name: "missing command", job: Job{Name: "x", Cron: "@hourly"}, err: "job command is required"},
		{name: "no schedule", job: Job{Name: "x", Command: "true"}, err: "either cron or at is required"},
		{name: "both schedules", job: Job{Name: "x", Command: "true", Cron: "@hourly", RunAt: &future}, err: "cron and at are mutually exclusive"},
		{name: "six fields", job: Job{Name: "x", Command: "true", Cron: "0 */5 * * * *"}, err: `invalid cron expression "0 */5 * * * *"`},
		{name: "past at", job: Job{Name: "x", Command: "true", RunAt: &past}, err: "at time 2026-05-04T12:01:00Z is in the past"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := tt.job
			_, err := s.Add(ctx, &job)
			assert.ErrorContains(t, err, tt.err)
		})
	}

	_, err := s.Add(ctx, &Job{Name: "dup", Command: "true", Cron: "@daily"})
	require.NoError(t, err)
	_, err = s.Add(ctx, &Job{Name: "dup", Command: "true", Cron: "@daily"})
	assert.EqualError(t, err, `job "dup" already exists`)
}

func TestAddComputesNextRun(t *testing.T) {
	s, clock := newScheduler(t)
	ctx := context.Background()

	job, err := s.Add(ctx, &Job{Name: "backup", Command: "tar czf /tmp/b.tgz .", Cron: "*/5 * * * *"})
	require.NoError(t, err)
	assert.True(t, job.Enabled)
	assert.Equal(t, "cron", job.Kind())
	assert.True(t, time.Date(2026, 5, 4, 12, 5, 0, 0, time.UTC).Equal(*job.NextRun))

	stored, err := s.Get(ctx, "backup")
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)
	assert.True(t, job.NextRun.Equal(*stored.NextRun))
	assert.Nil(t, stored.LastRun)

	at := clock.Now().Add(90 * time.Minute)
	once, err := s.Add(ctx, &Job{Name: "once", Command: "echo hi", RunAt: &at})
	require.NoError(t, err)
	assert.Equal(t, "at", once.Kind())
	assert.True(t, at.Equal(*once.NextRun))
}

func TestRunDue(t *testing.T) {
	s, clock := newScheduler(t)
	ctx := context.Background()

	_, err := s.Add(ctx, &Job{Name: "tick", Command: "echo tick", Cron: "*/5 * * * *"})
	require.NoError(t, err)
	at := clock.Now().Add(time.Minute)
	_, err = s.Add(ctx, &Job{Name: "once", Command: "echo once", RunAt: &at})
	require.NoError(t, err)
	_, err = s.Add(ctx, &Job{Name: "wipe", Command: "rm -rf /", Cron: "*/5 * * * *"})
	require.NoError(t, err)
	_, err = s.Add(ctx, &Job{Name: "broken", Command: "false", Cron: "@hourly"})
	require.NoError(t, err)
	_, err = s.Add(ctx, &Job{Name: "later", Command: "echo later", Cron: "0 0 * * *"})
	require.NoError(t, err)

	exec := &fakeExecutor{fail: map[string]error{"false": errors.New("exit status 1")}}
	runAt := time.Date(2026, 5, 4, 13, 0, 0, 0, time.UTC)
	results, err := s.RunDue(ctx, runAt, exec)
	require.NoError(t, err)

	byJob := map[string]RunResult{}
	for _, r := range results {
		byJob[r.Job] = r
	}
	require.Len(t, byJob, 4)
	assert.Equal(t, StatusOK, byJob["tick"].Status)
	assert.Equal(t, StatusOK, byJob["once"].Status)
	assert.Equal(t, StatusRefused, byJob["wipe"].Status)
	assert.Equal(t, StatusFailed, byJob["broken"].Status)
	assert.Equal(t, "exit status 1", byJob["broken"].Error)

	var commands []string
	for _, task := range exec.tasks {
		commands = append(commands, task.Command)
	}
	assert.NotContains(t, commands, "rm -rf /")
	assert.Len(t, commands, 3)

	once, err := s.Get(ctx, "once")
	require.NoError(t, err)
	assert.False(t, once.Enabled)
	assert.Nil(t, once.NextRun)
	assert.Equal(t, StatusOK, once.LastStatus)
	assert.Equal(t, "ran echo once", once.LastOutput)

	tick, err := s.Get(ctx, "tick")
	require.NoError(t, err)
	assert.True(t, time.Date(2026, 5, 4, 13, 5, 0, 0, time.UTC).Equal(*tick.NextRun))
	assert.True(t, runAt.Equal(*tick.LastRun))

	broken, err := s.Get(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, "partial\nexit status 1", broken.LastOutput)

	due, err := s.Due(ctx, runAt)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRemoveAndToggle(t *testing.T) {
	s, clock := newScheduler(t)
	ctx := context.Background()

	job, err := s.Add(ctx, &Job{Name: "tick", Command: "echo tick", Cron: "@hourly"})
	require.NoError(t, err)

	paused, err := s.SetEnabled(ctx, job.ID, false)
	require.NoError(t, err)
	assert.False(t, paused.Enabled)
	due, err := s.Due(ctx, clock.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)

	clock.Advance(3 * time.Hour)
	resumed, err := s.SetEnabled(ctx, "tick", true)
	require.NoError(t, err)
	assert.True(t, time.Date(2026, 5, 4, 16, 0, 0, 0, time.UTC).Equal(*resumed.NextRun))

	jobs, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	require.NoError(t, s.Remove(ctx, "tick"))
	assert.ErrorIs(t, s.Remove(ctx, "tick"), ErrJobNotFound)
	_, err = s.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}
