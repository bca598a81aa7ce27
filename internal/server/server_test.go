package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskd/internal/collab"
	"github.com/fyrsmithlabs/taskd/internal/config"
	"github.com/fyrsmithlabs/taskd/internal/orchestrator"
	"github.com/fyrsmithlabs/taskd/internal/progress"
	"github.com/fyrsmithlabs/taskd/internal/task"
)

// Happy-path collaborator stubs; the pipeline's branch coverage lives in
// the orchestrator tests.
type stubContext struct{}

func (stubContext) Compile(context.Context, collab.CompileRequest) (*collab.CompileResult, error) {
	return &collab.CompileResult{CompiledContext: "ctx", TokenCount: 1}, nil
}

type stubLLM struct{}

func (stubLLM) Complete(context.Context, []collab.Message) (string, error) {
	return "spec", nil
}

type stubScorer struct{}

func (stubScorer) Score(context.Context, collab.ScoreRequest) (*task.Score, error) {
	return &task.Score{
		Correctness: 9, Completeness: 9, Clarity: 9, Consistency: 9,
		Security: 9, Performance: 9, TestCoverage: 9, ErrorHandling: 9,
		Documentation: 9, Testability: 9, Overall: 9,
	}, nil
}

type stubAgent struct{}

func (stubAgent) Start(context.Context, collab.StartRequest) (string, error) { return "s1", nil }
func (stubAgent) Poll(context.Context, string) (*collab.PollResult, error) {
	return &collab.PollResult{Status: collab.SessionCompleted}, nil
}
func (stubAgent) Improve(context.Context, collab.ImproveRequest) error { return nil }
func (stubAgent) RunTests(context.Context, collab.RunTestsRequest) (*collab.TestRunResult, error) {
	return &collab.TestRunResult{ExitCode: 0, CoveragePct: 95}, nil
}
func (stubAgent) FixTests(context.Context, collab.FixTestsRequest) error { return nil }
func (stubAgent) FixGates(context.Context, collab.FixGatesRequest) error { return nil }

type stubGate struct{}

func (stubGate) Check(context.Context, collab.CheckRequest) (*task.GateResult, error) {
	return &task.GateResult{
		Lint: true, Security: true, Complexity: true, Coverage: true,
		CoveragePct: 95, AllPassed: true,
	}, nil
}

type stubVCS struct{}

func (stubVCS) EnsureLabel(context.Context, string, string) error { return nil }
func (stubVCS) ListLabels(context.Context, string) ([]collab.Label, error) {
	return nil, nil
}
func (stubVCS) CreatePR(context.Context, collab.PRRequest) (*collab.PRResult, error) {
	return &collab.PRResult{URL: "https://example.com/pr/1", Number: 1}, nil
}
func (stubVCS) RequestReviewers(context.Context, string, int, []string) error { return nil }

func newTestServer(t *testing.T) (*Server, *task.MemoryStore, *progress.Broadcaster) {
	t.Helper()
	cfg := config.Load()
	cfg.Pipeline.PollInterval = config.Duration(time.Millisecond)

	store := task.NewMemoryStore()
	broadcaster := progress.NewBroadcaster(nil, nil)
	pipeline := orchestrator.New(store, broadcaster, orchestrator.Collaborators{
		Context: stubContext{},
		LLM:     stubLLM{},
		Scorer:  stubScorer{},
		Agent:   stubAgent{},
		Gate:    stubGate{},
		VCS:     stubVCS{},
	}, cfg, nil)

	srv, err := NewServer(store, pipeline, broadcaster, nil, cfg.Server)
	require.NoError(t, err)
	return srv, store, broadcaster
}

func doRequest(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echoHeaderContentType, "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestCreateTask(t *testing.T) {
	srv, store, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/v1/tasks", `{
		"type": "FEATURE_BUILD",
		"description": "add endpoint",
		"repo": "acme/widgets",
		"language": "go"
	}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp CreateTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, task.StatusReceived, resp.Status)
	assert.True(t, strings.HasPrefix(resp.WorkingBranch, "feature/"))

	_, err := store.Get(context.Background(), resp.TaskID)
	assert.NoError(t, err)
}

func TestCreateTaskRejectsInvalid(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/v1/tasks", `{
		"type": "NOT_A_TYPE",
		"description": "x",
		"repo": "o/r",
		"language": "go"
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/api/v1/tasks", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/v1/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTaskAndSubresources(t *testing.T) {
	srv, store, _ := newTestServer(t)

	tk := task.New(task.CreateRequest{
		Type: task.TypeBugFix, Description: "d", Repo: "o/r", Language: "go",
	})
	tk.AppendLog("created")
	tk.AddArtifact(task.NewArtifact("a.go", task.ArtifactTypeSourceFile, "a.go", 12))
	require.NoError(t, store.Put(context.Background(), tk))

	rec := doRequest(srv, http.MethodGet, "/api/v1/tasks/"+tk.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), tk.ID)

	rec = doRequest(srv, http.MethodGet, "/api/v1/tasks/"+tk.ID+"/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "created")

	rec = doRequest(srv, http.MethodGet, "/api/v1/tasks/"+tk.ID+"/artifacts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "a.go")
}

func TestListTasksFilters(t *testing.T) {
	srv, store, _ := newTestServer(t)
	ctx := context.Background()

	for _, typ := range []task.Type{task.TypeFeatureBuild, task.TypeBugFix} {
		tk := task.New(task.CreateRequest{Type: typ, Description: "d", Repo: "o/r", Language: "go"})
		require.NoError(t, store.Put(ctx, tk))
	}

	rec := doRequest(srv, http.MethodGet, "/api/v1/tasks?type=BUG_FIX", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListTasksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, task.TypeBugFix, resp.Tasks[0].Type)

	rec = doRequest(srv, http.MethodGet, "/api/v1/tasks?limit=notanumber", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveConflictOutsideHumanReview(t *testing.T) {
	srv, store, _ := newTestServer(t)

	tk := task.New(task.CreateRequest{
		Type: task.TypeFeatureBuild, Description: "d", Repo: "o/r", Language: "go",
	})
	require.NoError(t, store.Put(context.Background(), tk))

	rec := doRequest(srv, http.MethodPost, "/api/v1/tasks/"+tk.ID+"/approve", `{"feedback":"ok"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRejectRequiresFeedback(t *testing.T) {
	srv, store, _ := newTestServer(t)

	tk := task.New(task.CreateRequest{
		Type: task.TypeFeatureBuild, Description: "d", Repo: "o/r", Language: "go",
	})
	require.NoError(t, store.Put(context.Background(), tk))

	rec := doRequest(srv, http.MethodPost, "/api/v1/tasks/"+tk.ID+"/reject", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelTask(t *testing.T) {
	srv, store, _ := newTestServer(t)

	tk := task.New(task.CreateRequest{
		Type: task.TypeFeatureBuild, Description: "d", Repo: "o/r", Language: "go",
	})
	require.NoError(t, store.Put(context.Background(), tk))

	rec := doRequest(srv, http.MethodPost, "/api/v1/tasks/"+tk.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(task.StatusCancelled))

	// Cancelling a terminal task conflicts.
	rec = doRequest(srv, http.MethodPost, "/api/v1/tasks/"+tk.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEventsStreamSnapshotForTerminalTask(t *testing.T) {
	srv, store, _ := newTestServer(t)

	tk := task.New(task.CreateRequest{
		Type: task.TypeFeatureBuild, Description: "d", Repo: "o/r", Language: "go",
	})
	require.NoError(t, tk.Transition(task.StatusCancelled))
	require.NoError(t, store.Put(context.Background(), tk))

	// Terminal task: the stream closes right after the snapshot.
	rec := doRequest(srv, http.MethodGet, "/api/v1/tasks/"+tk.ID+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: snapshot")
	assert.Contains(t, rec.Body.String(), string(task.StatusCancelled))
}

func TestEventsStreamLiveProgress(t *testing.T) {
	srv, store, broadcaster := newTestServer(t)

	tk := task.New(task.CreateRequest{
		Type: task.TypeFeatureBuild, Description: "d", Repo: "o/r", Language: "go",
	})
	require.NoError(t, store.Put(context.Background(), tk))

	go func() {
		// Wait for the handler to subscribe, then drive it to completion.
		for i := 0; i < 500; i++ {
			if broadcaster.SubscriberCount(tk.ID) > 0 {
				break
			}
			time.Sleep(time.Millisecond)
		}
		broadcaster.Publish(context.Background(), progress.Event{
			TaskID: tk.ID, Stage: "coding", Message: "working", ProgressPct: 50,
		})
		broadcaster.Publish(context.Background(), progress.Event{
			TaskID: tk.ID, Stage: "complete", Message: "done", ProgressPct: 100,
		})
	}()

	rec := doRequest(srv, http.MethodGet, "/api/v1/tasks/"+tk.ID+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "event: snapshot")
	assert.Contains(t, body, `"progress_pct":50`)
	assert.Contains(t, body, `"progress_pct":100`)
}
