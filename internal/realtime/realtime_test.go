package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/skillsync/skillsync-bff/internal/config"
	"github.com/skillsync/skillsync-bff/internal/domain"
	"github.com/skillsync/skillsync-bff/internal/follow"
)

type fakeRefs struct {
	mu   sync.Mutex
	refs map[int64]int
}

func newFakeRefs() *fakeRefs { return &fakeRefs{refs: make(map[int64]int)} }

func (f *fakeRefs) Retain(id int64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs[id]++
	return 0
}

func (f *fakeRefs) ReleaseAt(_ uint64, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs[id]--
}

func (f *fakeRefs) get(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs[id]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHubReplayAfterLastEventID(t *testing.T) {
	t.Parallel()

	hub := NewHub(3, nil)
	for i := range 5 {
		if _, err := hub.Publish(EventFollow, map[string]int{"n": i}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	sub, missed := hub.Subscribe(2)
	defer sub.Close()
	if len(missed) != 3 || missed[0].ID != 3 || missed[2].ID != 5 {
		t.Fatalf("expected events 3..5, got %+v", missed)
	}

	_, none := hub.Subscribe(0)
	if len(none) != 0 {
		t.Fatalf("expected no replay for a fresh subscriber, got %d", len(none))
	}

	// Older events fell out of the bounded queue.
	_, trimmed := hub.Subscribe(1)
	if len(trimmed) != 3 || trimmed[0].ID != 3 {
		t.Fatalf("expected replay capped at queue size, got %+v", trimmed)
	}
}

func TestHubDeliversToSubscribers(t *testing.T) {
	t.Parallel()

	hub := NewHub(10, nil)
	sub, _ := hub.Subscribe(0)
	defer sub.Close()

	hub.FollowChanged(follow.Change{Removed: []int64{4}})

	select {
	case ev := <-sub.C:
		if ev.Type != EventFollow || ev.ID != 1 {
			t.Fatalf("unexpected event: %+v", ev)
		}
		var c follow.Change
		if err := json.Unmarshal(ev.Data, &c); err != nil || len(c.Removed) != 1 || c.Removed[0] != 4 {
			t.Fatalf("unexpected payload %s: %v", ev.Data, err)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestHubDropsLaggingSubscriber(t *testing.T) {
	t.Parallel()

	hub := NewHub(10, nil)
	sub, _ := hub.Subscribe(0)
	for range subscriberBuffer + 1 {
		_, _ = hub.Publish(EventFollow, struct{}{})
	}

	if hub.Subscribers() != 0 {
		t.Fatal("expected lagging subscriber removed")
	}
	n := 0
	for range sub.C {
		n++
	}
	if n != subscriberBuffer {
		t.Fatalf("expected %d buffered events before close, got %d", subscriberBuffer, n)
	}
	sub.Close()
}

func TestSessionEventOmitsToken(t *testing.T) {
	t.Parallel()

	hub := NewHub(10, nil)
	sub, _ := hub.Subscribe(0)
	defer sub.Close()

	hub.SessionChanged(domain.Session{
		IsAuthenticated: true,
		AccessToken:     "secret-token",
		CurrentUser:     &domain.User{ID: 1, Username: "ada"},
	})

	ev := <-sub.C
	if ev.Type != EventSession {
		t.Fatalf("expected session event, got %q", ev.Type)
	}
	if strings.Contains(string(ev.Data), "secret-token") {
		t.Fatalf("access token leaked into event: %s", ev.Data)
	}
	if !strings.Contains(string(ev.Data), `"is_authenticated":true`) {
		t.Fatalf("unexpected payload: %s", ev.Data)
	}
}

func TestRegistryReplaceAndUnregister(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a := &websocket.Conn{}
	b := &websocket.Conn{}

	reg.Register("view_1", "tab-1", a)
	reg.Register("view_1", "tab-2", b)
	if reg.Len() != 2 {
		t.Fatalf("expected 2 connections, got %d", reg.Len())
	}

	reg.Unregister("view_1", "tab-1", b)
	if reg.Active("view_1", "tab-1") != a {
		t.Fatal("stale unregister removed the live connection")
	}

	reg.Unregister("view_1", "tab-1", a)
	if reg.Active("view_1", "tab-1") != nil || reg.Active("view_1", "tab-2") != b {
		t.Fatal("unexpected registry state after unregister")
	}
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestWebSocketRetainReleaseAndEvents(t *testing.T) {
	t.Parallel()

	hub := NewHub(10, nil)
	refs := newFakeRefs()
	reg := NewRegistry()
	srv := httptest.NewServer(NewWebSocketHandler(hub, reg, refs, []string{"*"}, true, nil))
	defer srv.Close()

	conn := dial(t, srv, "/")

	send(t, conn, `{"type":"ping"}`)
	var pong map[string]string
	readJSON(t, conn, &pong)
	if pong["type"] != "pong" {
		t.Fatalf("expected pong, got %v", pong)
	}

	send(t, conn, `{"type":"retain","user_ids":[7,7,8]}`)
	send(t, conn, `{"type":"release","user_ids":[8,99]}`)
	waitFor(t, func() bool { return refs.get(7) == 2 && refs.get(8) == 0 })
	if refs.get(99) != 0 {
		t.Fatal("release of an unretained id must be ignored")
	}

	if _, err := hub.Publish(EventFollow, follow.Change{Removed: []int64{3}}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	var ev Event
	readJSON(t, conn, &ev)
	if ev.Type != EventFollow || ev.ID != 1 {
		t.Fatalf("unexpected event: %+v", ev)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, func() bool { return refs.get(7) == 0 })
	waitFor(t, func() bool { return reg.Len() == 0 && hub.Subscribers() == 0 })
}

func TestWebSocketReplaysMissedEvents(t *testing.T) {
	t.Parallel()

	hub := NewHub(10, nil)
	for range 3 {
		_, _ = hub.Publish(EventSession, domain.LoggedOut())
	}
	srv := httptest.NewServer(NewWebSocketHandler(hub, NewRegistry(), newFakeRefs(), nil, true, nil))
	defer srv.Close()

	conn := dial(t, srv, "/?lastEventId=1")
	defer conn.CloseNow()

	for _, want := range []int64{2, 3} {
		var ev Event
		readJSON(t, conn, &ev)
		if ev.ID != want {
			t.Fatalf("expected replayed event %d, got %d", want, ev.ID)
		}
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	h := NewWebSocketHandler(NewHub(1, nil), NewRegistry(), newFakeRefs(), []string{"https://app.example"}, false, nil)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestSSEStreamReplayAndLive(t *testing.T) {
	t.Parallel()

	hub := NewHub(10, nil)
	_, _ = hub.Publish(EventFollow, follow.Change{Cleared: true})
	_, _ = hub.Publish(EventFollow, follow.Change{Removed: []int64{1}})

	cfg := config.SSEConfig{KeepaliveInterval: time.Hour, RetryDelay: 2 * time.Second}
	srv := httptest.NewServer(NewStreamHandler(hub, cfg, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	req.Header.Set("Last-Event-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	next := func(prefix string) string {
		t.Helper()
		for {
			select {
			case l, ok := <-lines:
				if !ok {
					t.Fatalf("stream ended waiting for %q", prefix)
				}
				if strings.HasPrefix(l, prefix) {
					return l
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	if l := next("retry:"); l != "retry: 2000" {
		t.Fatalf("unexpected retry line %q", l)
	}
	if l := next("id:"); l != "id: 2" {
		t.Fatalf("expected replay of event 2, got %q", l)
	}
	next("event: connected")

	waitFor(t, func() bool { return hub.Subscribers() == 1 })
	_, _ = hub.Publish(EventSession, domain.LoggedOut())
	if l := next("id:"); l != "id: 3" {
		t.Fatalf("expected live event 3, got %q", l)
	}
	if l := next("event:"); l != "event: session" {
		t.Fatalf("unexpected event line %q", l)
	}
}

func TestWebSocketDisconnectAfterLogoutKeepsNewViewEntries(t *testing.T) {
	t.Parallel()

	hub := NewHub(10, nil)
	store := follow.NewStore()
	srv := httptest.NewServer(NewWebSocketHandler(hub, NewRegistry(), store, []string{"*"}, true, nil))
	defer srv.Close()

	before := dial(t, srv, "/")
	send(t, before, `{"type":"retain","user_ids":[5]}`)
	send(t, before, `{"type":"ping"}`)
	var pong map[string]string
	readJSON(t, before, &pong)

	store.Clear()
	newEpoch := store.Retain(5)
	store.SetFollowState(5, true)

	_ = before.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, func() bool { return hub.Subscribers() == 0 })

	if !store.IsFollowing(5) || store.Len() != 1 {
		t.Fatalf("old view's disconnect removed the entry: %+v", store.Entry(5))
	}
	store.ReleaseAt(newEpoch, 5)
	if store.Len() != 0 {
		t.Fatal("expected entry removed once the current view released it")
	}
}
