package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/activitysync/internal/auth"
	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/session"
	"example.com/activitysync/internal/transport"
	"example.com/activitysync/internal/transport/httplink"
)

type mockPeer struct {
	mu         sync.Mutex
	view       session.View
	calls      []string
	activities []domain.Activity
	history    []domain.CompletedActivity
	startErr   error
	lastLimit  int
	extendBy   int
}

func (m *mockPeer) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockPeer) View() session.View { return m.view }

func (m *mockPeer) Start(_ context.Context, id string) (session.Result, error) {
	m.record("start:" + id)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return session.Result{}, m.startErr
	}
	return session.Result{Applied: true}, nil
}

func (m *mockPeer) setStartErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

func (m *mockPeer) snapshot() (calls []string, extendBy, lastLimit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...), m.extendBy, m.lastLimit
}

func (m *mockPeer) StartRemote(_ context.Context, id string) (session.Result, error) {
	m.record("start-remote:" + id)
	return session.Result{Forwarded: true}, nil
}

func (m *mockPeer) control(name string) (session.Result, error) {
	m.record(name)
	return session.Result{Applied: true}, nil
}

func (m *mockPeer) Pause(context.Context) (session.Result, error)     { return m.control("pause") }
func (m *mockPeer) Resume(context.Context) (session.Result, error)    { return m.control("resume") }
func (m *mockPeer) Skip(context.Context) (session.Result, error)      { return m.control("skip") }
func (m *mockPeer) Increment(context.Context) (session.Result, error) { return m.control("increment") }
func (m *mockPeer) Decrement(context.Context) (session.Result, error) { return m.control("decrement") }
func (m *mockPeer) Abort(context.Context) (session.Result, error)     { return m.control("abort") }

func (m *mockPeer) Extend(_ context.Context, seconds int) (session.Result, error) {
	m.mu.Lock()
	m.extendBy = seconds
	m.mu.Unlock()
	return m.control("extend")
}

func (m *mockPeer) RequestActivityList(context.Context) error {
	m.record("request-list")
	return nil
}

func (m *mockPeer) RequestNavigateToList(context.Context) error {
	m.record("request-navigate")
	return nil
}

func (m *mockPeer) Activities(context.Context) ([]domain.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Activity(nil), m.activities...), nil
}

func (m *mockPeer) SaveActivity(_ context.Context, a domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities = append(m.activities, a)
	return nil
}

func (m *mockPeer) DeleteActivity(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.activities {
		if a.ID == id {
			m.activities = append(m.activities[:i], m.activities[i+1:]...)
			return nil
		}
	}
	return domain.ErrActivityNotFound
}

func (m *mockPeer) History(_ context.Context, limit int) ([]domain.CompletedActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	return m.history, nil
}

type recordingInbound struct {
	mu   sync.Mutex
	envs []transport.Envelope
}

func (r *recordingInbound) Receive(_ context.Context, env transport.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	return nil
}

var testAuth = auth.Config{Secret: "api-secret", Issuer: "activitysync.test"}

func newServer(t *testing.T, peer Peer, inbound *recordingInbound) *httptest.Server {
	t.Helper()
	var recv httplink.Receiver
	if inbound != nil {
		recv = inbound
	}
	handler := NewHandler(peer, recv, 0)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	srv := httptest.NewServer(auth.NewMiddleware(testAuth).Wrap(mux))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string, scopes ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if scopes != nil {
		token, err := auth.Mint(testAuth, "tester", "handheld", scopes, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	srv := newServer(t, &mockPeer{}, nil)

	resp := do(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/v1/run", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSaveAndListActivities(t *testing.T) {
	peer := &mockPeer{}
	srv := newServer(t, peer, nil)

	body := `{"name":"Core","tasks":[{"name":"Plank","kind":"timed","duration":30},{"name":"Push-ups","kind":"count","duration":10}]}`
	resp := do(t, srv, http.MethodPost, "/v1/activities", body, auth.ScopeActivitiesRead)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/v1/activities", body, auth.ScopeActivitiesWrite)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var saved SaveActivityResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&saved))
	require.NotEmpty(t, saved.ActivityID)
	require.Equal(t, 2, saved.Tasks)

	resp = do(t, srv, http.MethodGet, "/v1/activities", "", auth.ScopeActivitiesRead)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list ListActivitiesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Items, 1)
	require.Equal(t, saved.ActivityID, list.Items[0].ID)
	require.Equal(t, domain.KindCount, list.Items[0].Tasks[1].Kind)

	resp = do(t, srv, http.MethodDelete, "/v1/activities/"+saved.ActivityID, "", auth.ScopeActivitiesWrite)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, srv, http.MethodDelete, "/v1/activities/"+saved.ActivityID, "", auth.ScopeActivitiesWrite)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSaveActivityValidation(t *testing.T) {
	srv := newServer(t, &mockPeer{}, nil)

	cases := map[string]string{
		"missing name":  `{"tasks":[]}`,
		"bad kind":      `{"name":"x","tasks":[{"name":"a","kind":"distance","duration":1}]}`,
		"zero duration": `{"name":"x","tasks":[{"name":"a","kind":"timed","duration":0}]}`,
		"not json":      `{`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := do(t, srv, http.MethodPost, "/v1/activities", body, auth.ScopeActivitiesWrite)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", resp.StatusCode)
			}
		})
	}
}

func TestRunActions(t *testing.T) {
	peer := &mockPeer{view: session.View{PeerID: "handheld-1", Mode: session.ModeAuthority, RunState: domain.RunRunning}}
	srv := newServer(t, peer, nil)

	resp := do(t, srv, http.MethodPost, "/v1/run/start", `{"activity_id":"a-1"}`, auth.ScopeRunControl)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out RunActionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.Result.Applied)
	require.Equal(t, session.ModeAuthority, out.View.Mode)

	for _, action := range []string{"pause", "resume", "skip", "increment", "decrement", "abort"} {
		resp = do(t, srv, http.MethodPost, "/v1/run/"+action, "", auth.ScopeRunControl)
		require.Equal(t, http.StatusOK, resp.StatusCode, action)
	}

	resp = do(t, srv, http.MethodPost, "/v1/run/extend", `{"seconds":15}`, auth.ScopeRunControl)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, extendBy, _ := peer.snapshot()
	require.Equal(t, 15, extendBy)

	resp = do(t, srv, http.MethodPost, "/v1/run/extend", `{"seconds":0}`, auth.ScopeRunControl)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/v1/run/start", `{"activity_id":"a-2","remote":true}`, auth.ScopeRunControl)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/v1/run/rewind", "", auth.ScopeRunControl)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/v1/run/pause", "", auth.ScopeActivitiesRead)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	calls, _, _ := peer.snapshot()
	require.Equal(t, []string{
		"start:a-1", "pause", "resume", "skip", "increment", "decrement", "abort", "extend", "start-remote:a-2",
	}, calls)
}

func TestStartConflictAndNotFound(t *testing.T) {
	peer := &mockPeer{startErr: session.ErrRemoteRunActive}
	srv := newServer(t, peer, nil)

	resp := do(t, srv, http.MethodPost, "/v1/run/start", `{"activity_id":"a-1"}`, auth.ScopeRunControl)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	peer.setStartErr(domain.ErrActivityNotFound)
	resp = do(t, srv, http.MethodPost, "/v1/run/start", `{"activity_id":"a-1"}`, auth.ScopeRunControl)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	peer.setStartErr(fmt.Errorf("start %q: %w", "Empty", domain.ErrEmptyActivity))
	resp = do(t, srv, http.MethodPost, "/v1/run/start", `{"activity_id":"a-1"}`, auth.ScopeRunControl)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/v1/run/start", `{}`, auth.ScopeRunControl)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryLimit(t *testing.T) {
	peer := &mockPeer{}
	srv := newServer(t, peer, nil)

	resp := do(t, srv, http.MethodGet, "/v1/history", "", auth.ScopeActivitiesRead)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, _, limit := peer.snapshot()
	require.Equal(t, 50, limit)
	var out HistoryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Items)

	resp = do(t, srv, http.MethodGet, "/v1/history?limit=5", "", auth.ScopeActivitiesRead)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, _, limit = peer.snapshot()
	require.Equal(t, 5, limit)
}

func TestCounterpartRequests(t *testing.T) {
	peer := &mockPeer{}
	srv := newServer(t, peer, nil)

	resp := do(t, srv, http.MethodPost, "/v1/counterpart/activity-list", "", auth.ScopeRunControl)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp = do(t, srv, http.MethodPost, "/v1/counterpart/navigate-to-list", "", auth.ScopeRunControl)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	calls, _, _ := peer.snapshot()
	require.Equal(t, []string{"request-list", "request-navigate"}, calls)
}

func TestPeerMessagesRequireSyncScope(t *testing.T) {
	inbound := &recordingInbound{}
	srv := newServer(t, &mockPeer{}, inbound)

	body := `{"topic":"command","payload":{"pause":true},"sentAt":"2026-03-01T10:00:00Z"}`
	resp := do(t, srv, http.MethodPost, "/v1/peer/messages", body, auth.ScopeRunControl)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/v1/peer/messages", body, auth.PeerScopes...)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	inbound.mu.Lock()
	defer inbound.mu.Unlock()
	require.Len(t, inbound.envs, 1)
	require.Equal(t, "command", inbound.envs[0].Topic)
	require.JSONEq(t, `{"pause":true}`, string(inbound.envs[0].Payload))
}
