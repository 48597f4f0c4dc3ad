package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alixia/internal/config"
	"alixia/internal/db"
	"alixia/internal/engine"
	"alixia/internal/events"
	"alixia/internal/migrate"
	"alixia/internal/repo"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T, secret string) (*httptest.Server, *engine.Engine) {
	t.Helper()
	conn, err := db.OpenMemory()
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	cfg := config.Default()
	cfg.Server.TurnTimeout = config.Duration(5 * time.Second)
	e, err := engine.New(conn, cfg, nil)
	require.NoError(t, err)
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 18, 5, 0, 0, time.UTC) }
	require.NoError(t, e.Start(context.Background()))
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: secret}})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		require.NoError(t, e.Stop(context.Background()))
		conn.Close()
	})
	return srv, e
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func bearer(t *testing.T, scopes ...string) map[string]string {
	t.Helper()
	tok, err := IssueToken(testSecret, "tester", scopes, time.Minute)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func TestHealthIsOpen(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestTurnRoundTrip(t *testing.T) {
	srv, e := newTestServer(t, "")
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/turns", TurnRequest{ClientID: "porch", Message: "What time is it?"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var turn TurnResponse
	require.NoError(t, json.Unmarshal(body, &turn))
	require.Equal(t, "It is 18:05.", turn.Message)
	require.Equal(t, "porch", turn.ToClient)

	require.Eventually(t, func() bool {
		_, err := e.Repo.GetHistory(context.Background(), turn.TicketID)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/v1/history?client_id=porch", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hist struct {
		Items []HistoryResponse `json:"items"`
	}
	require.NoError(t, json.Unmarshal(body, &hist))
	require.Len(t, hist.Items, 1)
	require.Equal(t, []string{"tell_time"}, hist.Items[0].Capabilities)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/v1/history/"+turn.TicketID+"/snapshot", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/v1/clients/porch/session", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/v1/events?ticket_id="+turn.TicketID+"&type=ticket.stage", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var evts paginatedEvents
	require.NoError(t, json.Unmarshal(body, &evts))
	require.NotEmpty(t, evts.Items)
}

func TestCapabilitiesAndRooms(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/capabilities", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var caps CapabilitiesResponse
	require.NoError(t, json.Unmarshal(body, &caps))
	var found bool
	for _, c := range caps.Items {
		if c.Name == "tell_time" {
			found = true
			require.Equal(t, []string{"concierge"}, c.Rooms)
			require.Equal(t, "Say the current time", c.Description)
		}
	}
	require.True(t, found)
	require.Contains(t, caps.Orphans, "play_title")

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/v1/rooms", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rooms RoomsResponse
	require.NoError(t, json.Unmarshal(body, &rooms))
	require.Len(t, rooms.Items, 8)
	require.Contains(t, rooms.Missing, "tracker")
}

func TestMessagesDrainMailbox(t *testing.T) {
	srv, e := newTestServer(t, "")
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/clients/porch/messages", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var drained MessagesResponse
	require.NoError(t, json.Unmarshal(body, &drained))
	require.Equal(t, "porch", drained.ClientID)
	require.NotNil(t, drained.Items)
	require.Empty(t, drained.Items)

	_, err := e.Ask(context.Background(), TurnRequest{ClientID: "porch", Message: "Set a timer for 1 seconds"}.dialog())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, body := doJSON(t, http.MethodGet, srv.URL+"/v1/clients/porch/messages", nil, nil)
		var out MessagesResponse
		if err := json.Unmarshal(body, &out); err != nil || len(out.Items) == 0 {
			return false
		}
		return out.Items[0].Unsolicited && out.Items[0].Message == "Your 1 second timer is done."
	}, 5*time.Second, 50*time.Millisecond)
}

func TestAuthRequiresScopedToken(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)
	url := srv.URL + "/v1/turns"
	turn := TurnRequest{ClientID: "porch", Message: "hello"}

	resp, body := doJSON(t, http.MethodPost, url, turn, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	require.Equal(t, "unauthorized", envelope.Error.Code)

	resp, _ = doJSON(t, http.MethodPost, url, turn, map[string]string{"Authorization": "Bearer junk"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, url, turn, bearer(t, ScopeRead))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &envelope))
	require.Equal(t, "forbidden", envelope.Error.Code)

	resp, body = doJSON(t, http.MethodPost, url, turn, bearer(t, ScopeTurns))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func TestIssueTokenNeedsSecret(t *testing.T) {
	_, err := IssueToken("", "x", nil, 0)
	require.Error(t, err)
	_, err = IssueToken("s", "", nil, 0)
	require.Error(t, err)
}

func TestWebhookDispatch(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []webhookEvent
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var evt webhookEvent
		_ = json.Unmarshal(data, &evt)
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
		if r.Header.Get("X-Alixia-Signature") != "sha256="+Sign("s3cret", data) {
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer hook.Close()

	conn, err := db.OpenMemory()
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(conn))
	w := events.Writer{DB: conn}
	ctx := context.Background()
	require.NoError(t, w.Append(ctx, "ticket.stage", "TKT-1", "overmind", nil))

	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"ticket.*"}, Secret: "s3cret"}}
	d := NewWebhookDispatcher(engineRepo(conn), cfg, nil)
	d.DispatchAll(ctx)
	require.Empty(t, got)

	require.NoError(t, w.Append(ctx, "document.request", "TKT-2", "monitor", nil))
	require.NoError(t, w.Append(ctx, "ticket.closed", "TKT-2", "overmind", events.EventPayload{"ok": true}))
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	require.Equal(t, "ticket.closed", got[0].Type)
	require.Equal(t, "TKT-2", got[0].TicketID)
	require.Equal(t, "alixia", got[0].Service)
}

func TestEventFilter(t *testing.T) {
	f := newEventFilter([]string{"ticket.*", "system.started"})
	require.True(t, f.match("ticket.stage"))
	require.True(t, f.match("system.started"))
	require.False(t, f.match("document.request"))
	require.True(t, newEventFilter(nil).match("anything"))
}

func engineRepo(conn *sql.DB) repo.Repo { return repo.Repo{DB: conn} }
