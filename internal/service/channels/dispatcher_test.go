package channels_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/models"
	"github.com/yasyarik/yaswine/internal/service/channels"
	"github.com/yasyarik/yaswine/internal/service/store"
	"github.com/yasyarik/yaswine/internal/testutil"
)

var t0 = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func setup(t *testing.T, posters ...channels.Poster) (*store.Store, *channels.Dispatcher) {
	t.Helper()
	st := testutil.NewStore(t, testutil.NewClock(t0))
	d := channels.NewDispatcher(st, channels.Config{
		SiteBaseURL:  "https://blog.example.com",
		PostTimeout:  5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}, zap.NewNop(), posters...)
	t.Cleanup(d.Close)
	return st, d
}

func readyJob(t *testing.T, st *store.Store, status string) *models.Job {
	t.Helper()
	slug := "rioja-reserva-guide"
	job := &models.Job{
		Topic:       "Rioja Reserva guide",
		Title:       "Rioja Reserva Guide",
		Description: "Everything about Rioja Reserva.",
		Category:    "Spain",
		Slug:        &slug,
		Status:      status,
	}
	require.NoError(t, st.CreateJob(context.Background(), job))
	return job
}

func TestTriggerPostsAndAwaitReturnsURL(t *testing.T) {
	poster := &testutil.FakePoster{Channel: models.ChannelTelegram}
	st, d := setup(t, poster)
	ctx := context.Background()
	job := readyJob(t, st, models.JobStatusReady)

	ack, err := d.Trigger(ctx, job.ID, models.ChannelTelegram, channels.Options{IncludeLink: true})
	require.NoError(t, err)
	assert.True(t, ack.Started)
	assert.Equal(t, models.ChannelStatusPosting, ack.Status)

	out := d.Await(ctx, job.ID, models.ChannelTelegram, 2*time.Second)
	require.True(t, out.OK, out.Error)
	assert.Equal(t, "https://social.example.com/telegram/"+job.ID, out.URL)

	calls := poster.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "https://blog.example.com/blog/rioja-reserva-guide.html", calls[0].URL)
	assert.True(t, calls[0].IncludeLink)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	state := got.Channel(models.ChannelTelegram)
	assert.Equal(t, models.ChannelStatusPosted, state.Status)
	assert.NotNil(t, state.PostedAt)
	assert.Empty(t, state.Error)
}

func TestTriggerUsesPublishedURL(t *testing.T) {
	poster := &testutil.FakePoster{Channel: models.ChannelLinkedIn}
	st, d := setup(t, poster)
	ctx := context.Background()
	job := readyJob(t, st, models.JobStatusReady)
	_, err := st.MarkPublished(ctx, job.ID, "https://wine.example.org/blog/custom.html")
	require.NoError(t, err)

	_, err = d.Trigger(ctx, job.ID, models.ChannelLinkedIn, channels.Options{})
	require.NoError(t, err)
	out := d.Await(ctx, job.ID, models.ChannelLinkedIn, 2*time.Second)
	require.True(t, out.OK)

	calls := poster.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "https://wine.example.org/blog/custom.html", calls[0].URL)
}

func TestTriggerWhilePostingIsIdempotent(t *testing.T) {
	block := make(chan struct{})
	poster := &testutil.FakePoster{Channel: models.ChannelLinkedIn, Block: block}
	st, d := setup(t, poster)
	ctx := context.Background()
	job := readyJob(t, st, models.JobStatusReady)

	ack, err := d.Trigger(ctx, job.ID, models.ChannelLinkedIn, channels.Options{})
	require.NoError(t, err)
	assert.True(t, ack.Started)

	ack, err = d.Trigger(ctx, job.ID, models.ChannelLinkedIn, channels.Options{})
	require.NoError(t, err)
	assert.False(t, ack.Started)
	assert.Equal(t, models.ChannelStatusPosting, ack.Status)

	close(block)
	out := d.Await(ctx, job.ID, models.ChannelLinkedIn, 2*time.Second)
	assert.True(t, out.OK)
	assert.Len(t, poster.Calls(), 1)
}

func TestTriggerOnPostedIsNoop(t *testing.T) {
	poster := &testutil.FakePoster{Channel: models.ChannelTelegram}
	st, d := setup(t, poster)
	ctx := context.Background()
	job := readyJob(t, st, models.JobStatusReady)

	_, err := d.Trigger(ctx, job.ID, models.ChannelTelegram, channels.Options{})
	require.NoError(t, err)
	require.True(t, d.Await(ctx, job.ID, models.ChannelTelegram, 2*time.Second).OK)

	ack, err := d.Trigger(ctx, job.ID, models.ChannelTelegram, channels.Options{})
	require.NoError(t, err)
	assert.False(t, ack.Started)
	assert.Equal(t, models.ChannelStatusPosted, ack.Status)
	assert.Len(t, poster.Calls(), 1)
}

func TestTriggerRejectsIneligibleJobs(t *testing.T) {
	poster := &testutil.FakePoster{Channel: models.ChannelTelegram}
	st, d := setup(t, poster)
	ctx := context.Background()

	draft := readyJob(t, st, models.JobStatusNew)
	_, err := d.Trigger(ctx, draft.ID, models.ChannelTelegram, channels.Options{})
	assert.ErrorIs(t, err, channels.ErrNotEligible)

	noSlug := &models.Job{Topic: "No slug yet", Status: models.JobStatusReady}
	require.NoError(t, st.CreateJob(ctx, noSlug))
	_, err = d.Trigger(ctx, noSlug.ID, models.ChannelTelegram, channels.Options{})
	assert.ErrorIs(t, err, channels.ErrMissingSlug)

	_, err = d.Trigger(ctx, draft.ID, "fax", channels.Options{})
	assert.ErrorIs(t, err, channels.ErrUnknownChannel)

	_, err = d.Trigger(ctx, "missing", models.ChannelTelegram, channels.Options{})
	assert.ErrorIs(t, err, store.ErrJobNotFound)
	assert.Empty(t, poster.Calls())
}

func TestPosterFailureRecordsErrorAndAllowsRetry(t *testing.T) {
	poster := &testutil.FakePoster{Channel: models.ChannelMicroblog, Err: testutil.ErrFake}
	st, d := setup(t, poster)
	ctx := context.Background()
	job := readyJob(t, st, models.JobStatusPublished)

	_, err := d.Trigger(ctx, job.ID, models.ChannelMicroblog, channels.Options{})
	require.NoError(t, err)
	out := d.Await(ctx, job.ID, models.ChannelMicroblog, 2*time.Second)
	assert.False(t, out.OK)
	assert.Equal(t, "fake failure", out.Error)

	logs, err := st.Logs(ctx, job.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, store.LogError, logs[len(logs)-1].Level)

	ack, err := d.Trigger(ctx, job.ID, models.ChannelMicroblog, channels.Options{})
	require.NoError(t, err)
	assert.True(t, ack.Started)
	d.Await(ctx, job.ID, models.ChannelMicroblog, 2*time.Second)
	assert.Len(t, poster.Calls(), 2)
}

func TestAwaitTimeoutForcesErrorAndDropsLateResult(t *testing.T) {
	block := make(chan struct{})
	poster := &testutil.FakePoster{Channel: models.ChannelLinkedIn, Block: block}
	st, d := setup(t, poster)
	ctx := context.Background()
	job := readyJob(t, st, models.JobStatusReady)

	_, err := d.Trigger(ctx, job.ID, models.ChannelLinkedIn, channels.Options{})
	require.NoError(t, err)

	out := d.Await(ctx, job.ID, models.ChannelLinkedIn, 50*time.Millisecond)
	assert.False(t, out.OK)
	assert.Equal(t, "linkedin timeout", out.Error)

	// The worker finishes after the timeout; its success must not win.
	close(block)
	d.Close()

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	state := got.Channel(models.ChannelLinkedIn)
	assert.Equal(t, models.ChannelStatusError, state.Status)
	assert.Equal(t, "linkedin timeout", state.Error)
	assert.Empty(t, state.PostURL)
}

func TestAwaitHonoursContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	poster := &testutil.FakePoster{Channel: models.ChannelTelegram, Block: block}
	st, d := setup(t, poster)
	job := readyJob(t, st, models.JobStatusReady)

	_, err := d.Trigger(context.Background(), job.ID, models.ChannelTelegram, channels.Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := d.Await(ctx, job.ID, models.ChannelTelegram, time.Minute)
	assert.False(t, out.OK)
	assert.Equal(t, context.Canceled.Error(), out.Error)
}
