package runlog_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/models"
	"github.com/yasyarik/yaswine/internal/service/runlog"
	"github.com/yasyarik/yaswine/internal/testutil"
)

var t0 = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func TestRecordAndListAutopublishRuns(t *testing.T) {
	clock := testutil.NewClock(t0)
	rec := runlog.New(testutil.NewStore(t, clock), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, rec.RecordAutopublish(ctx, models.TriggerSchedule, models.RunStatusNoop, clock.Now(),
		runlog.WithResult(map[string]any{"success": true, "message": "no eligible READY jobs"})))
	clock.Advance(time.Hour)
	require.NoError(t, rec.RecordAutopublish(ctx, models.TriggerManual, models.RunStatusDone, clock.Now(),
		runlog.WithJob("job-1")))

	runs, err := rec.ListAutopublishRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, models.RunStatusDone, runs[0].Status)
	require.NotNil(t, runs[0].JobID)
	assert.Equal(t, "job-1", *runs[0].JobID)
	assert.JSONEq(t, `{}`, string(runs[0].Result))

	assert.Equal(t, models.RunStatusNoop, runs[1].Status)
	assert.Nil(t, runs[1].JobID)
	var result map[string]any
	require.NoError(t, json.Unmarshal(runs[1].Result, &result))
	assert.Equal(t, "no eligible READY jobs", result["message"])
}

func TestRecordDiscoveryRun(t *testing.T) {
	clock := testutil.NewClock(t0)
	rec := runlog.New(testutil.NewStore(t, clock), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, rec.RecordDiscovery(ctx, models.TriggerAutopublish, models.RunStatusDone, t0,
		runlog.WithDirection("Rioja"), runlog.WithCounts(15, 3)))

	runs, err := rec.ListDiscoveryRuns(ctx, 500)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "Rioja", runs[0].Direction)
	assert.Equal(t, 15, runs[0].FoundCount)
	assert.Equal(t, 3, runs[0].QueuedCount)
	assert.Equal(t, models.TriggerAutopublish, runs[0].Trigger)
}

func TestListLimitIsCapped(t *testing.T) {
	clock := testutil.NewClock(t0)
	rec := runlog.New(testutil.NewStore(t, clock), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 105; i++ {
		require.NoError(t, rec.RecordAutopublish(ctx, models.TriggerSchedule, models.RunStatusNoop, clock.Now()))
		clock.Advance(time.Minute)
	}
	runs, err := rec.ListAutopublishRuns(ctx, 1000)
	require.NoError(t, err)
	assert.Len(t, runs, 100)

	runs, err = rec.ListAutopublishRuns(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, runs, 5)
}

func TestPrune(t *testing.T) {
	clock := testutil.NewClock(t0)
	rec := runlog.New(testutil.NewStore(t, clock), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, rec.RecordAutopublish(ctx, models.TriggerSchedule, models.RunStatusNoop, t0.AddDate(0, 0, -100)))
	require.NoError(t, rec.RecordDiscovery(ctx, models.TriggerSchedule, models.RunStatusError, t0.AddDate(0, 0, -95)))
	require.NoError(t, rec.RecordAutopublish(ctx, models.TriggerSchedule, models.RunStatusDone, t0.AddDate(0, 0, -1)))

	deleted, err := rec.Prune(ctx, t0.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	runs, err := rec.ListAutopublishRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusDone, runs[0].Status)
}

func TestRecordSurvivesCancelledContext(t *testing.T) {
	clock := testutil.NewClock(t0)
	rec := runlog.New(testutil.NewStore(t, clock), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, rec.RecordAutopublish(ctx, models.TriggerSchedule, models.RunStatusError, clock.Now()))
	require.NoError(t, rec.RecordDiscovery(ctx, models.TriggerSchedule, models.RunStatusError, clock.Now(),
		runlog.WithDirection("Natural wine")))

	ap, err := rec.ListAutopublishRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, ap, 1)
	disc, err := rec.ListDiscoveryRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, disc, 1)
	assert.Equal(t, "Natural wine", disc[0].Direction)
}
