package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vadim/prodesk/internal/app"
	"github.com/vadim/prodesk/internal/auth"
	"github.com/vadim/prodesk/internal/chat/entity"
	"github.com/vadim/prodesk/internal/chat/policy"
	"github.com/vadim/prodesk/internal/httpx/upstream/marketplace"
	"github.com/vadim/prodesk/internal/realtime"
	"github.com/vadim/prodesk/internal/storage"
	"github.com/vadim/prodesk/internal/stub"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []policy.Notification
}

func (r *recordingNotifier) Notify(n policy.Notification) {
	r.mu.Lock()
	r.calls = append(r.calls, n)
	r.mu.Unlock()
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordingNotifier) last() policy.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

type fixture struct {
	server *httptest.Server
	store  *stub.MemoryStore
}

func startStub(t *testing.T) *fixture {
	t.Helper()
	store := stub.NewMemoryStore()
	files, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}
	tokens := stub.ParseTokens("tok-p:p1:Provider,tok-c:c1:Customer")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := stub.NewServer(store, files, tokens, files.Dir(), logger)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &fixture{server: ts, store: store}
}

// mount builds a full client stack for one user against the stub.
func (f *fixture) mount(t *testing.T, token, userID string, notifier policy.Notifier) *app.Session {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := auth.StaticToken(token)
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"

	application := &app.App{
		Log: logger,
		API: marketplace.New(f.server.URL, tokens),
		Hub: realtime.NewHub(func() *realtime.Client {
			return realtime.NewClient(realtime.Options{
				URL:           wsURL,
				Tokens:        tokens,
				Logger:        logger,
				ReconnectBase: 10 * time.Millisecond,
				ReconnectMax:  50 * time.Millisecond,
			})
		}),
		Policy:   policy.New(),
		Notifier: notifier,
	}

	session, err := application.Mount(context.Background(), userID)
	if err != nil {
		t.Fatalf("mounting session for %s: %v", userID, err)
	}
	t.Cleanup(session.Close)
	return session
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMessageRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	f := startStub(t)
	provider := f.mount(t, "tok-p", "p1", nil)
	customer := f.mount(t, "tok-c", "c1", nil)
	ctx := context.Background()

	conv, err := provider.StartConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("starting conversation: %v", err)
	}
	if _, err := customer.OpenConversation(ctx, conv.ID); err != nil {
		t.Fatalf("customer opening conversation: %v", err)
	}
	// Joins travel on separate connections; give the stub a moment to
	// process them before fanning out.
	time.Sleep(50 * time.Millisecond)

	if err := provider.SendMessage(conv.ID, "hello there", nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	// The sender's own thread updates only via the server echo.
	waitFor(t, "echo on the provider side", func() bool {
		c, ok := provider.Store.Get(conv.ID)
		return ok && len(c.Messages) == 1
	})
	waitFor(t, "push on the customer side", func() bool {
		c, ok := customer.Store.Get(conv.ID)
		return ok && len(c.Messages) == 1
	})

	got, _ := customer.Store.Get(conv.ID)
	msg := got.Messages[0]
	if msg.Content != "hello there" || msg.SenderID() != "p1" {
		t.Errorf("received message = %+v", msg)
	}
	if !msg.IsMine("p1") || msg.IsMine("c1") {
		t.Error("sender attribution wrong")
	}

	// The open, expanded thread never flags unread for either side.
	if provider.Store.Unread() || customer.Store.Unread() {
		t.Error("open threads must not flag unread")
	}

	// Opponent derivation from the customer's perspective.
	opp, err := customer.Store.Opponent(conv.ID)
	if err != nil {
		t.Fatalf("opponent: %v", err)
	}
	if opp.ID != "p1" || opp.Name != "Provider" {
		t.Errorf("opponent = %+v", opp)
	}
}

func TestBackgroundMessageFlagsUnread(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	f := startStub(t)
	notifier := &recordingNotifier{}
	provider := f.mount(t, "tok-p", "p1", nil)
	customer := f.mount(t, "tok-c", "c1", notifier)
	ctx := context.Background()

	conv, err := provider.StartConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("starting conversation: %v", err)
	}
	// The customer joins the room but then navigates away from the thread.
	if _, err := customer.OpenConversation(ctx, conv.ID); err != nil {
		t.Fatalf("customer opening conversation: %v", err)
	}
	customer.Store.CloseOpen()
	time.Sleep(50 * time.Millisecond)

	if err := provider.SendMessage(conv.ID, "are you there?", nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, "unread flag", func() bool { return customer.Store.Unread() })
	waitFor(t, "notification", func() bool { return notifier.count() == 1 })
	if n := notifier.last(); n.Kind != policy.KindMessage || n.Preview != "are you there?" {
		t.Errorf("notification = %+v", n)
	}

	// Re-opening the thread clears the flag.
	if _, err := customer.OpenConversation(ctx, conv.ID); err != nil {
		t.Fatalf("re-open: %v", err)
	}
	if customer.Store.Unread() {
		t.Error("opening must clear unread")
	}
}

func TestConversationMovesToFront(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	f := startStub(t)
	ctx := context.Background()

	// Seed the customer conversation first so it sits behind a newer one.
	active, _, err := f.store.CreateOrGet(ctx,
		entity.Participant{ID: "p1", Name: "Provider"},
		entity.Participant{ID: "c1", Name: "Customer"})
	if err != nil {
		t.Fatalf("seeding room: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	other, _, err := f.store.CreateOrGet(ctx,
		entity.Participant{ID: "p1", Name: "Provider"},
		entity.Participant{ID: "x9", Name: "Walk-in"})
	if err != nil {
		t.Fatalf("seeding room: %v", err)
	}

	provider := f.mount(t, "tok-p", "p1", nil)
	customer := f.mount(t, "tok-c", "c1", nil)

	list := provider.Store.Conversations()
	if len(list) != 2 || list[0].ID != other.ID {
		t.Fatalf("initial order unexpected: %v", idsOf(list))
	}

	// A message in the older room moves it to the front of the provider's
	// live list.
	if _, err := customer.OpenConversation(ctx, active.ID); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := provider.Client.JoinRoom(active.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := customer.SendMessage(active.ID, "bump", nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, "provider receives the bump", func() bool {
		c, ok := provider.Store.Get(active.ID)
		return ok && len(c.Messages) == 1
	})
	list = provider.Store.Conversations()
	if list[0].ID != active.ID || list[1].ID != other.ID {
		t.Fatalf("order after bump = %v, want [%s %s]", idsOf(list), active.ID, other.ID)
	}
}

func TestAttachmentFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	f := startStub(t)
	provider := f.mount(t, "tok-p", "p1", nil)
	customer := f.mount(t, "tok-c", "c1", nil)
	ctx := context.Background()

	conv, err := provider.StartConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("starting conversation: %v", err)
	}
	if _, err := customer.OpenConversation(ctx, conv.ID); err != nil {
		t.Fatalf("open: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	content := []byte("fake image bytes")
	att, err := provider.UploadAttachment(ctx, "photo.png", "image/png",
		int64(len(content)), bytes.NewReader(content))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if att.Kind != entity.AttachmentImage {
		t.Errorf("kind = %s, want image", att.Kind)
	}

	if err := provider.SendMessage(conv.ID, "", att); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "attachment message", func() bool {
		c, ok := customer.Store.Get(conv.ID)
		return ok && len(c.Messages) == 1
	})

	got, _ := customer.Store.Get(conv.ID)
	received := got.Messages[0].Attachment
	if received == nil || received.Kind != entity.AttachmentImage {
		t.Fatalf("received attachment = %+v", received)
	}

	// The server-relative URL resolves against the API origin and serves the
	// original bytes.
	resp, err := http.Get(received.ResolveURL(f.server.URL))
	if err != nil {
		t.Fatalf("fetching attachment: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Equal(body, content) {
		t.Errorf("served attachment differs from the upload")
	}
}

func TestOrderEventsNotify(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	f := startStub(t)
	notifier := &recordingNotifier{}
	provider := f.mount(t, "tok-p", "p1", notifier)
	_ = provider

	push := func(path string, body map[string]string) {
		t.Helper()
		data, _ := json.Marshal(body)
		resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(data))
		if err != nil {
			t.Fatalf("pushing event: %v", err)
		}
		resp.Body.Close()
	}

	// Let the stub finish registering the live session.
	time.Sleep(50 * time.Millisecond)

	push("/debug/order", map[string]string{"user_id": "p1", "order_id": "o1", "title": "Pipe repair"})
	waitFor(t, "new-order notification", func() bool { return notifier.count() == 1 })
	if n := notifier.last(); n.Kind != policy.KindOrder || n.OrderID != "o1" {
		t.Errorf("notification = %+v", n)
	}

	// A paid status interrupts, an accepted one does not.
	push("/debug/order/status", map[string]string{"user_id": "p1", "order_id": "o1", "status": "accepted"})
	push("/debug/order/status", map[string]string{"user_id": "p1", "order_id": "o1", "status": "paid"})
	waitFor(t, "paid notification", func() bool { return notifier.count() == 2 })
	if n := notifier.last(); n.Status != entity.OrderStatusPaid {
		t.Errorf("notification = %+v", n)
	}

	time.Sleep(50 * time.Millisecond)
	if notifier.count() != 2 {
		t.Errorf("notifications = %d, silent statuses leaked through", notifier.count())
	}
}

func idsOf(list []entity.Conversation) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.ID
	}
	return out
}
