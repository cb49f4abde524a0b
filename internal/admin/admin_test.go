package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomz197/skirmish/internal/entity"
	"github.com/tomz197/skirmish/internal/experience"
	"github.com/tomz197/skirmish/internal/phase"
	"github.com/tomz197/skirmish/internal/replication"
	"github.com/tomz197/skirmish/internal/session"
)

type fakeSession struct {
	snap     replication.Snapshot
	status   session.Status
	members  []session.MemberInfo
	advances int
}

func (f *fakeSession) Snapshot() replication.Snapshot { return f.snap }
func (f *fakeSession) Status() session.Status         { return f.status }
func (f *fakeSession) Members() []session.MemberInfo  { return f.members }
func (f *fakeSession) AdvancePhase()                  { f.advances++ }

func newFakeSession() *fakeSession {
	return &fakeSession{
		snap: replication.Snapshot{SessionID: "s1", Seq: 7, ExperienceID: "Experience:Exp_Match_Warmup", Phase: "Warmup", RemainingSeconds: 12},
		status: session.Status{
			SessionID:  "s1",
			Experience: experience.MatchWarmup,
			LoadState:  experience.Ready,
			Phase:      phase.Warmup,
		},
	}
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := NewRouter(newFakeSession(), Options{})

	rec := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestState(t *testing.T) {
	h := NewRouter(newFakeSession(), Options{})

	rec := do(t, h, http.MethodGet, "/state")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Snapshot replication.Snapshot `json:"snapshot"`
		Status   map[string]any       `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, uint64(7), body.Snapshot.Seq)
	assert.Equal(t, "Warmup", body.Snapshot.Phase)
	assert.Equal(t, "Ready", body.Status["LoadState"])
	assert.Equal(t, "Warmup", body.Status["Phase"])
	assert.Equal(t, "Experience:Exp_Match_Warmup", body.Status["Experience"])
}

func TestMembers(t *testing.T) {
	s := newFakeSession()
	s.members = []session.MemberInfo{
		{ID: "m1", Name: "alice", Ready: true, Entity: &entity.Entity{MemberID: "m1", Spot: entity.Spot{Index: 3}}},
		{ID: "m2", Name: "bob"},
	}
	h := NewRouter(s, Options{})

	rec := do(t, h, http.MethodGet, "/members")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []MemberResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.True(t, out[0].Spawned)
	require.NotNil(t, out[0].Spot)
	assert.Equal(t, 3, *out[0].Spot)
	assert.False(t, out[1].Spawned)
	assert.Nil(t, out[1].Spot)
}

func TestAdvanceIsRateLimited(t *testing.T) {
	s := newFakeSession()
	h := NewRouter(s, Options{AdvanceLimit: 2, AdvanceWindow: time.Minute})

	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/phase/advance").Code)
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/phase/advance").Code)

	rec := do(t, h, http.MethodPost, "/phase/advance")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, 2, s.advances)
}

func TestAdvanceAfterFinish(t *testing.T) {
	s := newFakeSession()
	s.status.Finished = true
	h := NewRouter(s, Options{})

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/phase/advance").Code)
	assert.Zero(t, s.advances)
}

func TestAdvanceRequiresPost(t *testing.T) {
	h := NewRouter(newFakeSession(), Options{})
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/phase/advance").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewRouter(newFakeSession(), Options{})

	rec := do(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestLandingPage(t *testing.T) {
	fs := newFakeSession()
	fs.status.Members = 3
	h := NewRouter(fs, Options{SSHHost: "play.example.com", SSHPort: "2222"})

	rec := do(t, h, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "ssh -t -p 2222 play.example.com")
	assert.Contains(t, body, "Experience:Exp_Match_Warmup")
	assert.Contains(t, body, "Warmup")
	assert.Contains(t, body, "<dd>3</dd>")
}

func TestJoinCommand(t *testing.T) {
	assert.Equal(t, "ssh -t localhost", joinCommand("", ""))
	assert.Equal(t, "ssh -t host", joinCommand("host", "22"))
	assert.Equal(t, "ssh -t -p 2222 host", joinCommand("host", "2222"))
}
