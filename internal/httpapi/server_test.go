package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reconstructd/internal/engine"
	"reconstructd/internal/registry"
	"reconstructd/internal/supervisor"
	"reconstructd/pkg/types"
)

// mockService lets each test script the lifecycle layer's behavior.
type mockService struct {
	registerSnap types.SessionSnapshot
	registerErr  error
	startErr     error
	cancelErr    error
	cleanupErr   error
	statusSnap   types.SessionSnapshot
	statusErr    error
	results      *types.OutputManifest
	resultsErr   error
	daemon       types.StatusResponse
	ready        bool

	lastProcessReq types.ProcessRequest
}

func (m *mockService) RegisterSession(id string, images []string) (types.SessionSnapshot, error) {
	return m.registerSnap, m.registerErr
}
func (m *mockService) StartProcessing(id string, req types.ProcessRequest) error {
	m.lastProcessReq = req
	return m.startErr
}
func (m *mockService) Cancel(id string) error  { return m.cancelErr }
func (m *mockService) Cleanup(id string) error { return m.cleanupErr }
func (m *mockService) GetStatus(id string) (types.SessionSnapshot, error) {
	return m.statusSnap, m.statusErr
}
func (m *mockService) GetResults(id string) (*types.OutputManifest, error) {
	return m.results, m.resultsErr
}
func (m *mockService) DaemonStatus() types.StatusResponse { return m.daemon }
func (m *mockService) Ready() bool                        { return m.ready }

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// notFoundErr produces the canonical unknown-session error.
func notFoundErr(t *testing.T) error {
	t.Helper()
	_, err := registry.New().Get("ghost")
	if err == nil {
		t.Fatalf("expected not-found error")
	}
	return err
}

func TestCreateSessionCreated(t *testing.T) {
	svc := &mockService{registerSnap: types.SessionSnapshot{SessionID: "abc", ImageCount: 2}}
	w := doJSON(t, NewMux(svc), http.MethodPost, "/sessions", `{"images":["/in/a.jpg","/in/b.jpg"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp types.CreateSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID != "abc" || resp.ImageCount != 2 {
		t.Fatalf("response: %+v", resp)
	}
}

func TestCreateSessionRequiresImages(t *testing.T) {
	w := doJSON(t, NewMux(&mockService{}), http.MethodPost, "/sessions", `{"images":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateSessionRequiresJSONContentType(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString(`{"images":["/a.jpg"]}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}
}

func TestProcessAcceptsEmptyBody(t *testing.T) {
	svc := &mockService{statusSnap: types.SessionSnapshot{SessionID: "s1", Status: types.StatusRunning}}
	w := doJSON(t, NewMux(svc), http.MethodPost, "/sessions/s1/process", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastProcessReq != (types.ProcessRequest{}) {
		t.Fatalf("empty body must mean defaults, got %+v", svc.lastProcessReq)
	}
}

func TestProcessForwardsOptions(t *testing.T) {
	svc := &mockService{statusSnap: types.SessionSnapshot{SessionID: "s1", Status: types.StatusRunning}}
	body := `{"enable_dense":true,"enable_meshing":true,"max_image_size":1600,"matcher_type":"sequential"}`
	w := doJSON(t, NewMux(svc), http.MethodPost, "/sessions/s1/process", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	want := types.ProcessRequest{EnableDense: true, EnableMeshing: true, MaxImageSize: 1600, MatcherType: "sequential"}
	if svc.lastProcessReq != want {
		t.Fatalf("request: %+v", svc.lastProcessReq)
	}
}

func TestProcessErrorMapping(t *testing.T) {
	invalidOpts := engine.Validate(engine.Options{})
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", notFoundErr(t), http.StatusNotFound},
		{"already running", supervisor.ErrAlreadyRunning("s1"), http.StatusConflict},
		{"already processed", supervisor.ErrAlreadyProcessed("s1"), http.StatusConflict},
		{"busy", supervisor.ErrBusy(2), http.StatusTooManyRequests},
		{"invalid options", invalidOpts, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockService{startErr: tc.err}
			w := doJSON(t, NewMux(svc), http.MethodPost, "/sessions/s1/process", `{}`)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
			var resp types.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if resp.Code != tc.want || resp.Error == "" {
				t.Fatalf("error payload: %+v", resp)
			}
		})
	}
}

func TestSessionStatus(t *testing.T) {
	svc := &mockService{statusSnap: types.SessionSnapshot{
		SessionID:       "s1",
		Status:          types.StatusRunning,
		Stage:           "sparse-reconstruction",
		ProgressPercent: 55,
	}}
	w := doJSON(t, NewMux(svc), http.MethodGet, "/sessions/s1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap types.SessionSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Stage != "sparse-reconstruction" || snap.ProgressPercent != 55 {
		t.Fatalf("snapshot: %+v", snap)
	}
}

func TestSessionStatusNotFound(t *testing.T) {
	svc := &mockService{statusErr: notFoundErr(t)}
	w := doJSON(t, NewMux(svc), http.MethodGet, "/sessions/ghost/status", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestResultsNotReadyMaps409(t *testing.T) {
	svc := &mockService{resultsErr: supervisor.ErrNotReady("s1")}
	w := doJSON(t, NewMux(svc), http.MethodGet, "/sessions/s1/results", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestResultsOK(t *testing.T) {
	svc := &mockService{results: &types.OutputManifest{
		SessionID: "s1",
		Artifacts: []types.Artifact{{Kind: "sparse-pointcloud", Path: "/x/sparse_model.ply"}},
	}}
	w := doJSON(t, NewMux(svc), http.MethodGet, "/sessions/s1/results", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var man types.OutputManifest
	if err := json.Unmarshal(w.Body.Bytes(), &man); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(man.Artifacts) != 1 || man.Artifacts[0].Kind != "sparse-pointcloud" {
		t.Fatalf("manifest: %+v", man)
	}
}

func TestCancelNotRunningMaps409(t *testing.T) {
	svc := &mockService{cancelErr: supervisor.ErrNotRunning("s1")}
	w := doJSON(t, NewMux(svc), http.MethodPost, "/sessions/s1/cancel", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestCleanup(t *testing.T) {
	w := doJSON(t, NewMux(&mockService{}), http.MethodDelete, "/sessions/s1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	svc := &mockService{cleanupErr: supervisor.ErrStillRunning("s1")}
	w = doJSON(t, NewMux(svc), http.MethodDelete, "/sessions/s1", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestDaemonStatus(t *testing.T) {
	svc := &mockService{daemon: types.StatusResponse{Sessions: 3, Running: 1, MaxConcurrent: 4}}
	w := doJSON(t, NewMux(svc), http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var st types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Sessions != 3 || st.Running != 1 || st.MaxConcurrent != 4 {
		t.Fatalf("status: %+v", st)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	mux := NewMux(&mockService{ready: false})
	if w := doJSON(t, mux, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
	if w := doJSON(t, mux, http.MethodGet, "/readyz", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before preflight: %d", w.Code)
	}
	mux = NewMux(&mockService{ready: true})
	if w := doJSON(t, mux, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Fatalf("readyz after preflight: %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux := NewMux(&mockService{})
	// Generate one request so instrument labels exist.
	doJSON(t, mux, http.MethodGet, "/healthz", "")
	w := doJSON(t, mux, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "reconstructd_http_requests_total") {
		t.Fatalf("metrics body missing request counter")
	}
}

func TestCORSOptIn(t *testing.T) {
	SetCORSOptions(true, []string{"*"}, []string{"GET", "POST", "OPTIONS"}, []string{"Content-Type"})
	defer SetCORSOptions(false, nil, nil, nil)
	mux := NewMux(&mockService{})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected CORS headers when enabled")
	}
}
