package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-session-manager/internal/session"
	"github.com/JakeFAU/crawl-session-manager/internal/storage/memory"
	"github.com/JakeFAU/crawl-session-manager/internal/store"
)

type runsResponse struct {
	Runs []session.RunRecord `json:"runs"`
}

type runResponse struct {
	Run session.RunRecord `json:"run"`
}

func seedRuns(t *testing.T) (*memory.RunStore, uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	repo := memory.NewRunStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	older := uuid.New()
	require.NoError(t, repo.StartRun(ctx, older, "web", "docs", base))
	require.NoError(t, repo.AddProgress(ctx, older, 3, 1, 2048))
	msg := "checkpoint: run aborted: operator stop"
	require.NoError(t, repo.CompleteRun(ctx, older, base.Add(time.Minute), store.RunError, &msg))

	newer := uuid.New()
	require.NoError(t, repo.StartRun(ctx, newer, "web", "docs", base.Add(time.Hour)))
	require.NoError(t, repo.StartRun(ctx, uuid.New(), "file", "docs", base))
	return repo, older, newer
}

func TestListSessionRuns(t *testing.T) {
	t.Parallel()

	repo, older, newer := seedRuns(t)
	server := NewServer(Deps{Runs: repo}, Options{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/crawls/web/docs/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp runsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 2)
	assert.Equal(t, newer.String(), resp.Runs[0].RunID)
	assert.Equal(t, session.StateRunning, resp.Runs[0].State)
	assert.Equal(t, older.String(), resp.Runs[1].RunID)
	assert.Equal(t, session.StateFailed, resp.Runs[1].State)
	assert.Equal(t, session.Counters{Items: 3, Failed: 1, Bytes: 2048}, resp.Runs[1].Counters)
	assert.Contains(t, resp.Runs[1].Error, "operator stop")

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/crawls/web/docs/runs?limit=1&offset=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp = runsResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, older.String(), resp.Runs[0].RunID)
}

func TestListSessionRunsErrors(t *testing.T) {
	t.Parallel()

	repo, _, _ := seedRuns(t)
	server := NewServer(Deps{Runs: repo}, Options{}, zap.NewNop())

	cases := map[string]int{
		"/v1/crawls/web/docs/runs?limit=0":   http.StatusBadRequest,
		"/v1/crawls/web/docs/runs?limit=x":   http.StatusBadRequest,
		"/v1/crawls/web/docs/runs?offset=-1": http.StatusBadRequest,
		"/v1/crawls/ftp/docs/runs":           http.StatusNotFound,
	}
	for path, want := range cases {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}

	unconfigured := NewServer(Deps{}, Options{}, nil)
	rec := httptest.NewRecorder()
	unconfigured.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/crawls/web/docs/runs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	repo, older, _ := seedRuns(t)
	server := NewServer(Deps{Runs: repo}, Options{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+older.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "docs", resp.Run.Session)
	assert.Equal(t, session.KindWeb, resp.Run.Kind)
	require.NotNil(t, resp.Run.FinishedAt)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type brokenRepo struct {
	store.RunRepository
}

func (brokenRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, errors.New("connection reset")
}

func (brokenRepo) ListRuns(context.Context, string, string, int, int) ([]store.Run, error) {
	return nil, errors.New("connection reset")
}

func TestRunsRepositoryFailure(t *testing.T) {
	t.Parallel()

	server := NewServer(Deps{Runs: brokenRepo{}}, Options{}, zap.NewNop())
	for _, path := range []string{"/v1/runs/" + uuid.NewString(), "/v1/crawls/web/docs/runs"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
	}
}
