package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasyarik/yaswine/internal/models"
	"github.com/yasyarik/yaswine/internal/service/store"
	"github.com/yasyarik/yaswine/internal/testutil"
)

var t0 = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func newJob(t *testing.T, s *store.Store, topic, status string) *models.Job {
	t.Helper()
	job := &models.Job{Topic: topic, Status: status}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

func TestCreateJobDefaults(t *testing.T) {
	s := testutil.NewStore(t, testutil.NewClock(t0))
	ctx := context.Background()

	job := newJob(t, s, "Orange wine basics for beginners", "")
	assert.Len(t, job.ID, 36)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusNew, got.Status)
	assert.Equal(t, models.VisibilityPublic, got.Visibility)
	assert.Nil(t, got.Slug)
	assert.True(t, got.CreatedAt.Equal(t0))

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestCreateJobRejectsTakenSlug(t *testing.T) {
	s := testutil.NewStore(t, testutil.NewClock(t0))
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, &models.Job{Topic: "a", Slug: strPtr("rioja")}))
	err := s.CreateJob(ctx, &models.Job{Topic: "b", Slug: strPtr("rioja")})
	assert.ErrorIs(t, err, store.ErrSlugTaken)

	slug, err := s.UniqueSlug(ctx, "rioja", "")
	require.NoError(t, err)
	assert.Equal(t, "rioja-2", slug)
}

func TestListByStatusOldestFirst(t *testing.T) {
	clock := testutil.NewClock(t0)
	s := testutil.NewStore(t, clock)

	first := newJob(t, s, "first", models.JobStatusReady)
	clock.Advance(time.Minute)
	newJob(t, s, "other", models.JobStatusNew)
	clock.Advance(time.Minute)
	third := newJob(t, s, "third", models.JobStatusReady)

	jobs, err := s.ListByStatus(context.Background(), models.JobStatusReady, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, third.ID, jobs[1].ID)

	all, err := s.ListJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, third.ID, all[0].ID)
}

func TestGenerationTransitions(t *testing.T) {
	clock := testutil.NewClock(t0)
	s := testutil.NewStore(t, clock)
	ctx := context.Background()
	job := newJob(t, s, "topic", models.JobStatusNew)

	ok, err := s.BeginGenerating(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second claim must fail while GENERATING.
	ok, err = s.BeginGenerating(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(time.Second)
	ok, err = s.CompleteGeneration(ctx, job.ID, map[string]any{"title": "T", "slug": "t"})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusReady, got.Status)
	assert.Equal(t, "T", got.Title)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	ok, err = s.FailGeneration(ctx, job.ID, "late")
	require.NoError(t, err)
	assert.False(t, ok, "READY job cannot fail generation")
}

func TestMarkPublishedKeepsFirstURL(t *testing.T) {
	s := testutil.NewStore(t, testutil.NewClock(t0))
	ctx := context.Background()
	job := newJob(t, s, "topic", models.JobStatusReady)

	ok, err := s.MarkPublished(ctx, job.ID, "https://example.com/blog/a.html")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.MarkPublished(ctx, job.ID, "https://example.com/blog/b.html")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPublished, got.Status)
	assert.Equal(t, "https://example.com/blog/a.html", *got.PublishedURL)

	ok, err = s.MarkUnpublished(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusReady, got.Status)
	assert.Nil(t, got.PublishedURL)
}

func TestChannelPostingLifecycle(t *testing.T) {
	s := testutil.NewStore(t, testutil.NewClock(t0))
	ctx := context.Background()

	newJobID := newJob(t, s, "new", models.JobStatusNew).ID
	claimed, _, err := s.BeginChannelPosting(ctx, newJobID, models.ChannelTelegram)
	require.NoError(t, err)
	assert.False(t, claimed, "NEW jobs are not eligible for channels")

	id := newJob(t, s, "ready", models.JobStatusReady).ID

	claimed, current, err := s.BeginChannelPosting(ctx, id, models.ChannelTelegram)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, models.ChannelStatusPosting, current)

	claimed, current, err = s.BeginChannelPosting(ctx, id, models.ChannelTelegram)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, models.ChannelStatusPosting, current)

	ok, err := s.FinishChannel(ctx, id, models.ChannelTelegram, "https://t.me/c/1/2", "")
	require.NoError(t, err)
	assert.True(t, ok)

	// POSTED is terminal.
	ok, err = s.FinishChannel(ctx, id, models.ChannelTelegram, "", "boom")
	require.NoError(t, err)
	assert.False(t, ok)
	claimed, current, err = s.BeginChannelPosting(ctx, id, models.ChannelTelegram)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, models.ChannelStatusPosted, current)

	got, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	st := got.Channel(models.ChannelTelegram)
	assert.Equal(t, models.ChannelStatusPosted, st.Status)
	assert.Equal(t, "https://t.me/c/1/2", st.PostURL)
	assert.NotNil(t, st.PostedAt)

	_, _, err = s.BeginChannelPosting(ctx, id, "myspace")
	assert.ErrorIs(t, err, store.ErrUnknownChannel)
}

func TestChannelErrorIsRetryable(t *testing.T) {
	s := testutil.NewStore(t, testutil.NewClock(t0))
	ctx := context.Background()
	id := newJob(t, s, "ready", models.JobStatusPublished).ID

	claimed, _, err := s.BeginChannelPosting(ctx, id, models.ChannelLinkedIn)
	require.NoError(t, err)
	require.True(t, claimed)
	_, err = s.FinishChannel(ctx, id, models.ChannelLinkedIn, "", "rate limited")
	require.NoError(t, err)

	claimed, _, err = s.BeginChannelPosting(ctx, id, models.ChannelLinkedIn)
	require.NoError(t, err)
	assert.True(t, claimed)

	got, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got.LinkedInError, "claim clears the previous error")
}

func TestWatchChannelSignalsOnFinish(t *testing.T) {
	s := testutil.NewStore(t, testutil.NewClock(t0))
	ctx := context.Background()
	id := newJob(t, s, "ready", models.JobStatusReady).ID

	signal, cancel := s.WatchChannel(id, models.ChannelMicroblog)
	defer cancel()

	_, _, err := s.BeginChannelPosting(ctx, id, models.ChannelMicroblog)
	require.NoError(t, err)
	_, err = s.FinishChannel(ctx, id, models.ChannelMicroblog, "https://x.com/i/web/status/1", "")
	require.NoError(t, err)

	select {
	case <-signal:
	case <-time.After(time.Second):
		t.Fatal("expected a completion signal")
	}
}

func TestDeleteJobRemovesLogs(t *testing.T) {
	s := testutil.NewStore(t, testutil.NewClock(t0))
	ctx := context.Background()
	id := newJob(t, s, "topic", models.JobStatusNew).ID

	s.AppendLog(ctx, id, store.LogInfo, "create", "created")
	logs, err := s.Logs(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	require.NoError(t, s.DeleteJob(ctx, id))
	logs, err = s.Logs(ctx, id, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.ErrorIs(t, s.DeleteJob(ctx, id), store.ErrJobNotFound)
}

func TestSettingsSaveLeavesSlotBookkeeping(t *testing.T) {
	s := testutil.NewStore(t, testutil.NewClock(t0))
	ctx := context.Background()

	st, err := s.AutopublishSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TimesPerDay)
	assert.Equal(t, models.Channels, st.EnabledChannels())

	require.NoError(t, s.RecordAutopublishSlot(ctx, "2026-03-10-09", t0))

	st.Enabled = true
	st.TimesPerDay = 2
	st.LastSlotKey = "bogus"
	st.SetChannels([]string{models.ChannelTelegram})
	require.NoError(t, s.SaveAutopublishSettings(ctx, st))

	got, err := s.AutopublishSettings(ctx)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, 2, got.TimesPerDay)
	assert.Equal(t, "2026-03-10-09", got.LastSlotKey)
	assert.Equal(t, []string{models.ChannelTelegram}, got.EnabledChannels())

	td, err := s.TopicDiscoverySettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, td.RunHour)
	assert.Equal(t, 55.0, td.MinScore)
}
