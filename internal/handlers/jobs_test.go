package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fieldops/internal/lifecycle"
	"github.com/ukydev/fieldops/internal/middleware"
	"github.com/ukydev/fieldops/internal/models"
	"github.com/ukydev/fieldops/internal/outcome"
)

var alex = models.Session{TechnicianID: "tech-1", Username: "alex", Name: "Alex Rivera"}

// MockJobService is a mock implementation of JobService
type MockJobService struct {
	mock.Mock
}

func (m *MockJobService) view(args mock.Arguments) (*lifecycle.View, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lifecycle.View), args.Error(1)
}

func (m *MockJobService) CreateJob(ctx context.Context, session models.Session, req lifecycle.NewJob) (*lifecycle.View, error) {
	return m.view(m.Called(ctx, session, req))
}

func (m *MockJobService) Get(ctx context.Context, session models.Session, jobID int64) (*lifecycle.View, error) {
	return m.view(m.Called(ctx, session, jobID))
}

func (m *MockJobService) List(ctx context.Context, session models.Session, filter lifecycle.ListFilter) ([]lifecycle.View, error) {
	args := m.Called(ctx, session, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]lifecycle.View), args.Error(1)
}

func (m *MockJobService) ActiveJob(ctx context.Context, session models.Session) (*lifecycle.View, error) {
	return m.view(m.Called(ctx, session))
}

func (m *MockJobService) Start(ctx context.Context, session models.Session, jobID int64) (*lifecycle.View, error) {
	return m.view(m.Called(ctx, session, jobID))
}

func (m *MockJobService) EnRoute(ctx context.Context, session models.Session, jobID int64) (*lifecycle.View, error) {
	return m.view(m.Called(ctx, session, jobID))
}

func (m *MockJobService) Pause(ctx context.Context, session models.Session, jobID int64, reason string) (*lifecycle.View, error) {
	return m.view(m.Called(ctx, session, jobID, reason))
}

func (m *MockJobService) Resume(ctx context.Context, session models.Session, jobID int64) (*lifecycle.View, error) {
	return m.view(m.Called(ctx, session, jobID))
}

func (m *MockJobService) Cancel(ctx context.Context, session models.Session, jobID int64, reason string) (*lifecycle.View, error) {
	return m.view(m.Called(ctx, session, jobID, reason))
}

func (m *MockJobService) Complete(ctx context.Context, session models.Session, jobID int64, req lifecycle.CompleteRequest) (*lifecycle.View, error) {
	return m.view(m.Called(ctx, session, jobID, req))
}

func (m *MockJobService) Sign(ctx context.Context, session models.Session, jobID int64, req lifecycle.SignRequest) (*lifecycle.View, error) {
	return m.view(m.Called(ctx, session, jobID, req))
}

func (m *MockJobService) MarkSynced(ctx context.Context, session models.Session, jobID int64) (*lifecycle.View, error) {
	return m.view(m.Called(ctx, session, jobID))
}

// sessionRequest builds a request carrying alex's session and the given mux vars.
func sessionRequest(method, target, body string, vars map[string]string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
	}
	req = req.WithContext(middleware.WithSession(req.Context(), alex))
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

func busyView(id int64) *lifecycle.View {
	job := &models.Job{ID: id, JobNumber: fmt.Sprintf("JOB-%04d", id), TechnicianID: "tech-1"}
	v := lifecycle.NewView(job)
	v.Status = models.StatusBusy
	return v
}

func TestJobHandler_ListJobs(t *testing.T) {
	t.Run("filters are parsed from the query", func(t *testing.T) {
		jobs := new(MockJobService)
		handler := NewJobHandler(jobs)
		want := lifecycle.ListFilter{
			Day:          time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC),
			Status:       models.StatusBusy,
			OnlyUnsynced: true,
		}
		jobs.On("List", mock.Anything, alex, want).Return([]lifecycle.View{*busyView(1)}, nil)

		w := httptest.NewRecorder()
		handler.ListJobs(w, sessionRequest("GET", "/api/jobs?day=2024-05-06&status=BUSY&unsynced=true", "", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			OK   bool             `json:"ok"`
			Data []lifecycle.View `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.True(t, response.OK)
		require.Len(t, response.Data, 1)
		assert.Equal(t, models.StatusBusy, response.Data[0].Status)
		jobs.AssertExpectations(t)
	})

	t.Run("bad query values", func(t *testing.T) {
		jobs := new(MockJobService)
		handler := NewJobHandler(jobs)
		for _, target := range []string{
			"/api/jobs?day=06-05-2024",
			"/api/jobs?status=SLEEPING",
			"/api/jobs?unsynced=maybe",
		} {
			w := httptest.NewRecorder()
			handler.ListJobs(w, sessionRequest("GET", target, "", nil))
			assert.Equal(t, http.StatusBadRequest, w.Code, target)
		}
		jobs.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no session", func(t *testing.T) {
		handler := NewJobHandler(new(MockJobService))
		w := httptest.NewRecorder()
		handler.ListJobs(w, httptest.NewRequest("GET", "/api/jobs", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"ok": false}`, w.Body.String())
	})
}

func TestJobHandler_TransitionStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"success", nil, http.StatusOK},
		{"invalid transition", fmt.Errorf("%w: start from COMPLETED", outcome.ErrInvalidTransition), http.StatusConflict},
		{"invariant violation", fmt.Errorf("%w: another job is in motion", outcome.ErrInvariantViolation), http.StatusConflict},
		{"not found", fmt.Errorf("%w: job 9", outcome.ErrNotFound), http.StatusNotFound},
		{"invalid argument", fmt.Errorf("%w: reason", outcome.ErrInvalidArgument), http.StatusBadRequest},
		{"store failure", fmt.Errorf("%w: disk full", outcome.ErrStore), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := new(MockJobService)
			handler := NewJobHandler(jobs)
			if tt.err == nil {
				jobs.On("Start", mock.Anything, alex, int64(1)).Return(busyView(1), nil)
			} else {
				jobs.On("Start", mock.Anything, alex, int64(1)).Return(nil, tt.err)
			}

			w := httptest.NewRecorder()
			handler.Start(w, sessionRequest("POST", "/api/jobs/1/start", "", map[string]string{"id": "1"}))
			assert.Equal(t, tt.code, w.Code)
			if tt.err != nil {
				assert.JSONEq(t, `{"ok": false}`, w.Body.String())
			}
		})
	}
}

func TestJobHandler_RequestBodies(t *testing.T) {
	jobs := new(MockJobService)
	handler := NewJobHandler(jobs)
	vars := map[string]string{"id": "2"}

	jobs.On("Pause", mock.Anything, alex, int64(2), "waiting on parts").Return(busyView(2), nil)
	jobs.On("Cancel", mock.Anything, alex, int64(2), "customer absent").Return(busyView(2), nil)
	jobs.On("Complete", mock.Anything, alex, int64(2), lifecycle.CompleteRequest{WorkSummary: "Replaced valve"}).Return(busyView(2), nil)
	jobs.On("Sign", mock.Anything, alex, int64(2), lifecycle.SignRequest{SignedBy: "J. Lee", SignatureURI: "file:///sig.png"}).Return(busyView(2), nil)

	cases := []struct {
		handler http.HandlerFunc
		body    string
	}{
		{handler.Pause, `{"reason": "waiting on parts"}`},
		{handler.Cancel, `{"reason": "customer absent"}`},
		{handler.Complete, `{"work_summary": "Replaced valve"}`},
		{handler.Sign, `{"signed_by": "J. Lee", "signature_uri": "file:///sig.png"}`},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		c.handler(w, sessionRequest("POST", "/api/jobs/2/x", c.body, vars))
		assert.Equal(t, http.StatusOK, w.Code, c.body)
	}
	jobs.AssertExpectations(t)

	t.Run("malformed body", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.Pause(w, sessionRequest("POST", "/api/jobs/2/pause", "{bad json", vars))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.Resume(w, sessionRequest("POST", "/api/jobs/0/resume", "", map[string]string{"id": "0"}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestJobHandler_ActiveJob(t *testing.T) {
	t.Run("none in motion", func(t *testing.T) {
		jobs := new(MockJobService)
		jobs.On("ActiveJob", mock.Anything, alex).Return(nil, nil)

		w := httptest.NewRecorder()
		NewJobHandler(jobs).ActiveJob(w, sessionRequest("GET", "/api/jobs/active", "", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ok": true, "data": null}`, w.Body.String())
	})

	t.Run("job in motion", func(t *testing.T) {
		jobs := new(MockJobService)
		jobs.On("ActiveJob", mock.Anything, alex).Return(busyView(3), nil)

		w := httptest.NewRecorder()
		NewJobHandler(jobs).ActiveJob(w, sessionRequest("GET", "/api/jobs/active", "", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"JOB-0003"`)
	})
}

func TestJobHandler_CreateJob(t *testing.T) {
	jobs := new(MockJobService)
	handler := NewJobHandler(jobs)
	jobs.On("CreateJob", mock.Anything, alex, mock.AnythingOfType("lifecycle.NewJob")).Return(busyView(5), nil).Once()
	jobs.On("CreateJob", mock.Anything, alex, mock.AnythingOfType("lifecycle.NewJob")).
		Return(nil, fmt.Errorf("%w: job number is required", outcome.ErrInvalidArgument))

	w := httptest.NewRecorder()
	handler.CreateJob(w, sessionRequest("POST", "/api/jobs", `{"job_number": "JOB-0005", "title": "Leak"}`, nil))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	handler.CreateJob(w, sessionRequest("POST", "/api/jobs", `{}`, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
