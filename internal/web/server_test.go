package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beaconops/missionctl/internal/events"
	"github.com/beaconops/missionctl/internal/notify"
	"github.com/beaconops/missionctl/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store, *events.Broadcaster) {
	t.Helper()
	bus := events.NewBroadcaster()
	t.Cleanup(bus.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithBroadcaster(bus))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return NewServer(st, bus, nil), st, bus
}

func seedThread(t *testing.T, st *store.Store) *notify.TaskMessage {
	t.Helper()
	ctx := context.Background()
	if _, err := st.UpsertAgentAlias(ctx, "backend", "agent:backend-1"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	msg, err := st.CreateTaskMessage(ctx, store.CreateMessageParams{
		TaskID:           "task-1",
		AuthorSessionKey: "agent:author-1",
		Content:          "@backend take a look",
	})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	return msg
}

func TestListMessagesEndpoint(t *testing.T) {
	srv, st, _ := newTestServer(t)
	seedThread(t, st)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/tasks/task-1/messages")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}

	var body struct {
		Messages []notify.TaskMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Messages) != 1 || body.Messages[0].Content != "@backend take a look" {
		t.Errorf("messages: %+v", body.Messages)
	}
}

func TestListNotificationsEndpoint(t *testing.T) {
	srv, st, _ := newTestServer(t)
	seedThread(t, st)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/tasks/task-1/notifications")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}

	var body struct {
		Notifications []notify.NotificationWithMessage `json:"notifications"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Notifications) != 1 {
		t.Fatalf("notifications: %+v", body.Notifications)
	}
	n := body.Notifications[0]
	if n.TargetSessionKey != "agent:backend-1" || n.State != notify.StateQueued {
		t.Errorf("notification: %+v", n)
	}
	if n.MessageContent != "@backend take a look" {
		t.Errorf("joined message: %q", n.MessageContent)
	}
}

func TestNotificationsEndpointRejectsNonGET(t *testing.T) {
	srv, st, _ := newTestServer(t)
	seedThread(t, st)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		req, err := http.NewRequest(method, ts.URL+"/api/tasks/task-1/notifications", nil)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("%s: status %d, want 405", method, resp.StatusCode)
		}
	}
}

func TestUnreadEndpoints(t *testing.T) {
	srv, st, _ := newTestServer(t)
	seedThread(t, st)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := ts.URL + "/api/tasks/task-1/unread/agent:viewer-1"

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get unread: %v", err)
	}
	var uc notify.UnreadCount
	if err := json.NewDecoder(resp.Body).Decode(&uc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	_ = resp.Body.Close()
	if uc.Unread != 1 {
		t.Errorf("unread before mark: %d", uc.Unread)
	}

	resp, err = http.Post(url, "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post mark-read: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark-read status: %d", resp.StatusCode)
	}

	resp, err = http.Get(url)
	if err != nil {
		t.Fatalf("get unread again: %v", err)
	}
	if err := json.NewDecoder(resp.Body).Decode(&uc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	_ = resp.Body.Close()
	if uc.Unread != 0 {
		t.Errorf("unread after mark: %d", uc.Unread)
	}
}

func TestUnreadEndpointRejectsBadSessionKey(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/tasks/task-1/unread/not-a-key")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: %d, want 400", resp.StatusCode)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status %d", path, resp.StatusCode)
		}
	}
}

func TestWebsocketStreamsTransitions(t *testing.T) {
	srv, st, _ := newTestServer(t)
	seedThread(t, st)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)

	ctx := context.Background()
	ntfs, err := st.ListNotifications(ctx, store.ListParams{TaskID: "task-1"})
	if err != nil || len(ntfs) != 1 {
		t.Fatalf("seed notifications: %v %d", err, len(ntfs))
	}
	if _, err := st.TransitionNotification(ctx, store.TransitionParams{
		ID: ntfs[0].ID, State: notify.StateDelivering,
	}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.TransitionEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.NotificationID != ntfs[0].ID || ev.To != notify.StateDelivering {
		t.Errorf("event: %+v", ev)
	}
}
