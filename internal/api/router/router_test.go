package router_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/api/auth"
	"github.com/cuongbtq/media-pipeline/internal/api/dto"
	"github.com/cuongbtq/media-pipeline/internal/api/handler"
	"github.com/cuongbtq/media-pipeline/internal/api/router"
	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/pipeline"
	"github.com/cuongbtq/media-pipeline/internal/queue"
	"github.com/cuongbtq/media-pipeline/internal/review"
	"github.com/cuongbtq/media-pipeline/internal/storage"
	"github.com/cuongbtq/media-pipeline/internal/testsupport"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type server struct {
	engine *gin.Engine
	store  *storage.Storage
	jwt    *auth.JWTService
	pub    *testsupport.Publisher
}

func newServer(t *testing.T, checks map[string]func(context.Context) error) *server {
	t.Helper()
	store := testsupport.NewStorage(t)
	pub := &testsupport.Publisher{}
	q := queue.New(store, pub, testsupport.Logger())

	jwtService, err := auth.NewJWTService("test-secret", "", time.Hour)
	require.NoError(t, err)

	deps := &handler.Dependencies{
		Logger:       testsupport.Logger(),
		Store:        store,
		Queue:        q,
		Pipeline:     pipeline.NewService(q, store, 2, testsupport.Logger()),
		Review:       review.NewService(store, testsupport.Logger()),
		HealthChecks: checks,
	}
	return &server{
		engine: router.SetupRouter(deps, jwtService),
		store:  store,
		jwt:    jwtService,
		pub:    pub,
	}
}

func (s *server) token(t *testing.T, id string, role domain.Role) string {
	t.Helper()
	tok, err := s.jwt.GenerateToken(domain.Actor{ID: id, Role: role})
	require.NoError(t, err)
	return tok
}

func (s *server) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["code"]
}

func TestHealth(t *testing.T) {
	s := newServer(t, map[string]func(context.Context) error{
		"database": func(context.Context) error { return nil },
	})
	w := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", body["status"])

	s = newServer(t, map[string]func(context.Context) error{
		"rabbitmq": func(context.Context) error { return errors.New("not connected") },
	})
	w = s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newServer(t, nil)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header"},
		{name: "wrong scheme", header: "Basic abc"},
		{name: "bad token", header: "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			s.engine.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "unauthorized", errorCode(t, w))
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newServer(t, nil)
	w := s.do(t, http.MethodOptions, "/api/v1/jobs", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestEnqueueTranscription(t *testing.T) {
	s := newServer(t, nil)
	testsupport.SeedRecording(t, s.store, "rec-1")
	editor := s.token(t, "editor-1", domain.RoleEditor)

	w := s.do(t, http.MethodPost, "/api/v1/recordings/rec-1/transcriptions", editor, `{"language":"EN"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	first := decode[dto.EnqueueTranscriptionResponse](t, w)
	assert.True(t, first.Created)
	assert.NotEmpty(t, first.JobID)

	w = s.do(t, http.MethodPost, "/api/v1/recordings/rec-1/transcriptions", editor, `{"language":"en"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	second := decode[dto.EnqueueTranscriptionResponse](t, w)
	assert.False(t, second.Created)
	assert.Equal(t, first.JobID, second.JobID)
	assert.Len(t, s.pub.Published(), 1)

	w = s.do(t, http.MethodGet, "/api/v1/jobs/"+first.JobID, editor, "")
	require.Equal(t, http.StatusOK, w.Code)
	job := decode[dto.JobDTO](t, w)
	assert.Equal(t, "queued", job.Status)
	assert.Equal(t, "transcription", job.JobType)
	assert.JSONEq(t, `{"recording_id":"rec-1","language":"en"}`, string(job.Payload))
}

func TestEnqueueTranscription_NoBody(t *testing.T) {
	s := newServer(t, nil)
	testsupport.SeedRecording(t, s.store, "rec-1")

	w := s.do(t, http.MethodPost, "/api/v1/recordings/rec-1/transcriptions", s.token(t, "editor-1", domain.RoleEditor), "")
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
}

func TestEnqueueTranscription_Errors(t *testing.T) {
	s := newServer(t, nil)
	testsupport.SeedRecording(t, s.store, "rec-1")

	tests := []struct {
		name     string
		path     string
		role     domain.Role
		body     string
		wantCode int
		wantErr  string
	}{
		{name: "member forbidden", path: "rec-1", role: domain.RoleMember, body: `{}`, wantCode: http.StatusForbidden, wantErr: "forbidden"},
		{name: "unknown recording", path: "rec-x", role: domain.RoleEditor, body: `{}`, wantCode: http.StatusNotFound, wantErr: "not_found"},
		{name: "bad language", path: "rec-1", role: domain.RoleEditor, body: `{"language":"???"}`, wantCode: http.StatusBadRequest, wantErr: "validation_error"},
		{name: "malformed body", path: "rec-1", role: domain.RoleEditor, body: `{`, wantCode: http.StatusBadRequest, wantErr: "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/recordings/"+tt.path+"/transcriptions", s.token(t, "u-1", tt.role), tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantErr, errorCode(t, w))
		})
	}
}

func TestEnqueueDubbing(t *testing.T) {
	s := newServer(t, nil)
	testsupport.SeedRecording(t, s.store, "rec-1")
	segments := testsupport.SeedSegments(t, s.store, "rec-1", "one", "two")
	editor := s.token(t, "editor-1", domain.RoleEditor)

	w := s.do(t, http.MethodPost, "/api/v1/recordings/rec-1/dubs", editor, `{"language":"fr"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	all := decode[dto.EnqueueDubbingResponse](t, w)
	assert.Len(t, all.JobIDs, 2)

	w = s.do(t, http.MethodPost, "/api/v1/recordings/rec-1/dubs", editor, `{"language":"de","segment_id":"`+segments[1].ID+`","voice_id":"v1"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	one := decode[dto.EnqueueDubbingResponse](t, w)
	assert.Len(t, one.JobIDs, 1)

	w = s.do(t, http.MethodPost, "/api/v1/recordings/rec-1/dubs", editor, `{"segment_id":"`+segments[0].ID+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListJobs(t *testing.T) {
	s := newServer(t, nil)
	editor := s.token(t, "editor-1", domain.RoleEditor)
	for _, id := range []string{"rec-1", "rec-2", "rec-3"} {
		testsupport.SeedRecording(t, s.store, id)
		w := s.do(t, http.MethodPost, "/api/v1/recordings/"+id+"/transcriptions", editor, `{}`)
		require.Equal(t, http.StatusAccepted, w.Code)
	}

	w := s.do(t, http.MethodGet, "/api/v1/jobs?page_size=2&job_type=transcription&status=queued", editor, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page := decode[dto.ListJobsResponse](t, w)
	require.Len(t, page.Jobs, 2)
	require.NotEmpty(t, page.NextCursor)

	w = s.do(t, http.MethodGet, "/api/v1/jobs?page_size=2&cursor="+page.NextCursor, editor, "")
	require.Equal(t, http.StatusOK, w.Code)
	next := decode[dto.ListJobsResponse](t, w)
	require.Len(t, next.Jobs, 1)
	assert.Empty(t, next.NextCursor)

	seen := map[string]bool{}
	for _, j := range append(page.Jobs, next.Jobs...) {
		seen[j.JobID] = true
	}
	assert.Len(t, seen, 3)

	w = s.do(t, http.MethodGet, "/api/v1/jobs?status=done", editor, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/jobs?job_type=render", editor, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/jobs?cursor=@@@", editor, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetJob_Errors(t *testing.T) {
	s := newServer(t, nil)
	member := s.token(t, "member-1", domain.RoleMember)

	w := s.do(t, http.MethodGet, "/api/v1/jobs/not-a-uuid", member, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/jobs/6f1c1f4e-8f7a-4f8e-9d6a-2b3c4d5e6f70", member, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSacredSignOffFlow(t *testing.T) {
	s := newServer(t, nil)
	testsupport.SeedRecording(t, s.store, "rec-2", testsupport.Sacred)
	editor := s.token(t, "editor-1", domain.RoleEditor)
	steward := s.token(t, "steward-1", domain.RoleSteward)

	w := s.do(t, http.MethodPut, "/api/v1/recordings/rec-2/visibility", editor, `{"visibility":"public"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "visibility_blocked", errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/v1/review-tasks", editor,
		`{"target_kind":"recording","target_id":"rec-2","task_type":"consent_signoff","notes":"needs elders"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	task := decode[domain.ReviewTask](t, w)
	assert.Equal(t, domain.TaskTypeSacredSignOff, task.TaskType)
	assert.Equal(t, domain.TaskStatusPending, task.Status)

	w = s.do(t, http.MethodPost, "/api/v1/review-tasks", editor,
		`{"target_kind":"recording","target_id":"rec-2","task_type":"sacred_sign_off"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/review-tasks/"+task.ID+"/approve", editor, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/review-tasks/"+task.ID+"/approve", steward, `{"notes":"ok","publish_visibility":"public"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	approved := decode[domain.ReviewTask](t, w)
	assert.Equal(t, domain.TaskStatusApproved, approved.Status)

	rec, err := s.store.GetRecording(context.Background(), "rec-2")
	require.NoError(t, err)
	assert.Equal(t, domain.VisibilityPublic, rec.Visibility)

	w = s.do(t, http.MethodPost, "/api/v1/review-tasks/"+task.ID+"/reject", steward, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/recordings/rec-2/review-tasks", editor, "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[dto.ReviewTasksResponse](t, w)
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, task.ID, list.Tasks[0].ID)
}

func TestReviewTaskAssignAndGet(t *testing.T) {
	s := newServer(t, nil)
	testsupport.SeedRecording(t, s.store, "rec-1")
	admin := s.token(t, "admin-1", domain.RoleAdmin)
	editor := s.token(t, "editor-1", domain.RoleEditor)

	w := s.do(t, http.MethodPost, "/api/v1/review-tasks", editor,
		`{"target_kind":"recording","target_id":"rec-1","task_type":"transcription_qc"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	task := decode[domain.ReviewTask](t, w)

	w = s.do(t, http.MethodPost, "/api/v1/review-tasks/"+task.ID+"/assign", editor, `{"assigned_to":"editor-1"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/review-tasks/"+task.ID+"/assign", admin, `{"assigned_to":"editor-1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assigned := decode[domain.ReviewTask](t, w)
	assert.Equal(t, domain.TaskStatusInProgress, assigned.Status)

	w = s.do(t, http.MethodPost, "/api/v1/review-tasks/"+task.ID+"/reject", editor, `{"notes":"timing off"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/review-tasks/"+task.ID, editor, "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[domain.ReviewTask](t, w)
	assert.Equal(t, domain.TaskStatusRejected, got.Status)
	assert.Equal(t, "timing off", got.Notes)

	w = s.do(t, http.MethodPost, "/api/v1/review-tasks", editor,
		`{"target_kind":"dub","target_id":"rec-1","task_type":"transcription_qc"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/review-tasks/missing", editor, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListArtifacts(t *testing.T) {
	s := newServer(t, nil)
	testsupport.SeedRecording(t, s.store, "rec-1")
	testsupport.SeedSegments(t, s.store, "rec-1", "a", "b")
	member := s.token(t, "member-1", domain.RoleMember)

	w := s.do(t, http.MethodGet, "/api/v1/recordings/rec-1/segments", member, "")
	require.Equal(t, http.StatusOK, w.Code)
	segments := decode[dto.SegmentsResponse](t, w)
	require.Len(t, segments.Segments, 2)
	assert.Equal(t, "a", segments.Segments[0].TextOriginal)

	w = s.do(t, http.MethodGet, "/api/v1/recordings/rec-1/dubs", member, "")
	require.Equal(t, http.StatusOK, w.Code)
	dubs := decode[dto.DubsResponse](t, w)
	assert.Empty(t, dubs.Dubs)

	w = s.do(t, http.MethodGet, "/api/v1/recordings/nope/segments", member, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
