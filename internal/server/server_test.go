package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/config"
	"github.com/yasyarik/yaswine/internal/models"
	"github.com/yasyarik/yaswine/internal/service"
	"github.com/yasyarik/yaswine/internal/service/autopublish"
	"github.com/yasyarik/yaswine/internal/service/channels"
	"github.com/yasyarik/yaswine/internal/service/discovery"
	"github.com/yasyarik/yaswine/internal/service/draft"
	"github.com/yasyarik/yaswine/internal/service/lifecycle"
	"github.com/yasyarik/yaswine/internal/service/reconciler"
	"github.com/yasyarik/yaswine/internal/service/runlog"
	"github.com/yasyarik/yaswine/internal/service/topics"
	"github.com/yasyarik/yaswine/internal/testutil"
)

var t0 = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

type testServer struct {
	*Server
	clock  *testutil.Clock
	source *testutil.FakeTopicSource
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Scheduler.Disabled = true
	cfg.Discovery.Subtopics = []string{"Rioja", "Barolo"}
	if mutate != nil {
		mutate(cfg)
	}

	clock := testutil.NewClock(t0)
	st := testutil.NewStore(t, clock)
	logger := zap.NewNop()
	source := &testutil.FakeTopicSource{}

	jobs := lifecycle.NewService(st, &testutil.FakeGenerator{}, draft.NewValidator(draft.DefaultRules()), &testutil.FakeSite{}, logger)
	var posters []channels.Poster
	for _, ch := range models.Channels {
		posters = append(posters, &testutil.FakePoster{Channel: ch})
	}
	dispatcher := channels.NewDispatcher(st, channels.Config{
		SiteBaseURL:  "https://blog.example.com",
		PostTimeout:  5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}, logger, posters...)
	rec := runlog.New(st, logger)
	disc := discovery.NewRunner(st, source, rec, &cfg.Discovery, logger)
	ap := autopublish.NewRunner(st, jobs, dispatcher, disc, rec, 5*time.Second, logger)

	svcs := &Services{
		Store:       st,
		Jobs:        jobs,
		Dispatcher:  dispatcher,
		Recorder:    rec,
		Reconciler:  reconciler.New(st, logger),
		Discovery:   disc,
		Autopublish: ap,
		Scheduler:   service.NewScheduler(&cfg.Scheduler, st, ap, disc, rec, logger),
		Auth:        service.NewAuthService(&cfg.Auth, logger),
	}
	srv := New(cfg, svcs, logger)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &testServer{Server: srv, clock: clock, source: source}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func (s *testServer) createJob(t *testing.T, topic string) string {
	t.Helper()
	code, out := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"topic": topic})
	require.Equal(t, http.StatusCreated, code, out)
	return out["job"].(map[string]any)["id"].(string)
}

func (s *testServer) waitStatus(t *testing.T, id, status string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		job, err := s.Services.Store.GetJob(context.Background(), id)
		return err == nil && job.Status == status
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	code, out := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, false, out["scheduler"])
}

func TestJobCRUD(t *testing.T) {
	s := newTestServer(t, nil)

	code, out := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"topic": "  "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, lifecycle.ErrEmptyTopic.Error(), out["error"])

	id := s.createJob(t, "Rioja Reserva explained for beginners")

	code, out = s.do(t, http.MethodGet, "/api/v1/jobs/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.JobStatusNew, out["job"].(map[string]any)["status"])
	assert.Contains(t, out["channels"], models.ChannelTelegram)

	code, out = s.do(t, http.MethodPut, "/api/v1/jobs/"+id, map[string]any{"visibility": "secret"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = s.do(t, http.MethodPut, "/api/v1/jobs/"+id, map[string]any{"category": "Regions"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Regions", out["job"].(map[string]any)["category"])

	code, out = s.do(t, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["jobs"], 1)

	code, _ = s.do(t, http.MethodDelete, "/api/v1/jobs/"+id, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, "/api/v1/jobs/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGeneratePublishAndChannels(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.createJob(t, "Rioja Reserva explained for beginners")

	code, _ := s.do(t, http.MethodPost, "/api/v1/jobs/"+id+"/channels/telegram/publish", nil)
	assert.Equal(t, http.StatusConflict, code, "NEW jobs cannot be posted")

	code, out := s.do(t, http.MethodPost, "/api/v1/jobs/"+id+"/generate", nil)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, models.JobStatusGenerating, out["status"])
	s.waitStatus(t, id, models.JobStatusReady)

	code, out = s.do(t, http.MethodPost, "/api/v1/jobs/"+id+"/publish", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "https://blog.example.com/blog/rioja-reserva-explained-for-beginners.html", out["published_url"])

	code, _ = s.do(t, http.MethodPost, "/api/v1/jobs/"+id+"/generate", nil)
	assert.Equal(t, http.StatusConflict, code, "published jobs cannot be regenerated")

	code, _ = s.do(t, http.MethodPost, "/api/v1/jobs/"+id+"/channels/myspace/publish", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = s.do(t, http.MethodPost, "/api/v1/jobs/"+id+"/channels/telegram/publish", map[string]any{"include_link": true})
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, true, out["started"])
	assert.Eventually(t, func() bool {
		job, err := s.Services.Store.GetJob(context.Background(), id)
		return err == nil && job.TelegramStatus == models.ChannelStatusPosted
	}, 5*time.Second, 10*time.Millisecond)

	code, out = s.do(t, http.MethodPost, "/api/v1/jobs/"+id+"/channels/telegram/publish", nil)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, models.ChannelStatusPosted, out["status"])
	assert.Equal(t, false, out["started"])

	code, out = s.do(t, http.MethodGet, "/api/v1/jobs/"+id+"/logs", nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, out["logs"])

	code, _ = s.do(t, http.MethodPost, "/api/v1/jobs/"+id+"/unpublish", nil)
	require.Equal(t, http.StatusOK, code)
	s.waitStatus(t, id, models.JobStatusReady)

	code, _ = s.do(t, http.MethodGet, "/api/v1/jobs/missing/logs", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListJobsReconcilesStaleGenerating(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.createJob(t, "Rioja Reserva explained for beginners")
	ok, err := s.Services.Store.BeginGenerating(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)

	s.clock.Advance(61 * time.Minute)
	code, _ := s.do(t, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, code)

	job, err := s.Services.Store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Equal(t, "Stale GENERATING timeout after 60 minutes", job.Error)
}

func TestAutopublishSettingsAreClamped(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Services.Store.RecordAutopublishSlot(ctx, "2026-03-10-09", t0))

	code, out := s.do(t, http.MethodPut, "/api/v1/autopublish/settings", map[string]any{
		"enabled":       true,
		"times_per_day": 20,
		"channels":      []string{" Telegram ", "twitter"},
		"start_hour":    -3,
		"end_hour":      30,
	})
	require.Equal(t, http.StatusOK, code, out)
	settings := out["settings"].(map[string]any)
	assert.Equal(t, float64(8), settings["times_per_day"])
	assert.Equal(t, float64(0), settings["start_hour"])
	assert.Equal(t, float64(23), settings["end_hour"])
	assert.Equal(t, "UTC", settings["timezone"])
	assert.Equal(t, []any{"telegram"}, settings["channels"])
	assert.Len(t, settings["slots"], 8)
	assert.Equal(t, "2026-03-10-09", settings["last_slot_key"])

	code, out = s.do(t, http.MethodGet, "/api/v1/autopublish/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["alive"])
	assert.NotEmpty(t, out["now_local"])
}

func TestAutopublishRunAndRuns(t *testing.T) {
	s := newTestServer(t, nil)

	code, out := s.do(t, http.MethodPost, "/api/v1/autopublish/run", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.RunStatusNoop, out["result"].(map[string]any)["status"])

	code, out = s.do(t, http.MethodGet, "/api/v1/autopublish/runs?limit=5", nil)
	require.Equal(t, http.StatusOK, code)
	runs := out["runs"].([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, models.TriggerManual, runs[0].(map[string]any)["trigger"])
}

func TestDiscoverySettingsRotateShortDirection(t *testing.T) {
	s := newTestServer(t, nil)

	code, out := s.do(t, http.MethodPut, "/api/v1/topics/autodiscovery/settings", map[string]any{
		"enabled":       true,
		"direction":     "ab",
		"per_run_limit": 100,
		"min_score":     -5,
		"top_n":         0,
	})
	require.Equal(t, http.StatusOK, code, out)
	settings := out["settings"].(map[string]any)
	// Day 69 of 2026 picks the second subtopic.
	assert.Equal(t, "Wine blog: Barolo", settings["direction"])
	assert.Equal(t, float64(30), settings["per_run_limit"])
	assert.Equal(t, float64(0), settings["min_score"])
	assert.Equal(t, float64(1), settings["top_n"])
	assert.Equal(t, float64(6), settings["run_hour"])
}

func TestDiscoveryRunAndPreview(t *testing.T) {
	s := newTestServer(t, nil)
	s.source.Candidates = []topics.Candidate{
		{Topic: "How long does Rioja Reserva age", Score: 90},
		{Topic: "Barolo vintages worth cellaring now", Score: 80},
	}

	code, out := s.do(t, http.MethodPost, "/api/v1/topics/discover", map[string]any{"direction": "ab"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = s.do(t, http.MethodPost, "/api/v1/topics/discover", map[string]any{"direction": "Spanish reds"})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["items"], 2)

	code, out = s.do(t, http.MethodPost, "/api/v1/topics/autodiscovery/run", map[string]any{"direction": "Spanish reds", "top_n": 5})
	require.Equal(t, http.StatusOK, code)
	result := out["result"].(map[string]any)
	assert.Equal(t, models.RunStatusDone, result["status"])
	assert.Equal(t, float64(2), result["queued_count"])

	code, out = s.do(t, http.MethodGet, "/api/v1/topics/autodiscovery/runs", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["runs"], 1)

	s.source.Err = testutil.ErrFake
	code, _ = s.do(t, http.MethodPost, "/api/v1/topics/discover", map[string]any{"direction": "Spanish reds"})
	assert.Equal(t, http.StatusBadGateway, code)
}

func TestAuthLoginFlow(t *testing.T) {
	secret, _, err := service.GenerateSecret("Factory", "admin")
	require.NoError(t, err)
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.TOTPSecret = secret
	})

	code, _ := s.do(t, http.MethodGet, "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{"code": "not-a-code"})
	assert.Equal(t, http.StatusUnauthorized, code)

	otp, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	code, out := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{"code": otp})
	require.Equal(t, http.StatusOK, code)
	token := out["token"].(string)

	code, _ = s.do(t, http.MethodGet, "/api/v1/jobs", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, code)
}
