package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"testing"
	"time"

	"hookpulse/pkg/storage"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

type stubStore struct {
	recent    []storage.StoredEvent
	recentErr error
	lastLimit int
}

func (s *stubStore) InsertIfAbsent(ctx context.Context, event storage.StoredEvent) (bool, error) {
	return false, errors.New("not implemented")
}

func (s *stubStore) Find(ctx context.Context, filter storage.EventFilter, page, pageSize int) ([]storage.StoredEvent, int64, error) {
	return nil, 0, errors.New("not implemented")
}

func (s *stubStore) GetByID(ctx context.Context, id string) (*storage.StoredEvent, error) {
	return nil, storage.ErrNotFound
}

func (s *stubStore) Recent(ctx context.Context, limit int) ([]storage.StoredEvent, error) {
	s.lastLimit = limit
	return s.recent, s.recentErr
}

func (s *stubStore) CountAll(ctx context.Context) (int64, error)                  { return 0, nil }
func (s *stubStore) CountSince(ctx context.Context, t time.Time) (int64, error)   { return 0, nil }
func (s *stubStore) CountByType(ctx context.Context) ([]storage.TypeCount, error) { return nil, nil }
func (s *stubStore) PRActivity(ctx context.Context, limit int) ([]storage.PRActivity, error) {
	return nil, nil
}
func (s *stubStore) CommentStats(ctx context.Context) ([]storage.CommentStat, error) {
	return nil, nil
}
func (s *stubStore) Ping(ctx context.Context) error { return nil }
func (s *stubStore) Close() error                   { return nil }

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testEvent(deliveryID string) storage.StoredEvent {
	branch := "main"
	return storage.StoredEvent{
		ID:         "id-" + deliveryID,
		DeliveryID: deliveryID,
		EventType:  "push",
		Repository: storage.RepositoryInfo{FullName: "octo/repo"},
		Sender:     storage.SenderInfo{Login: "octo"},
		Metadata:   storage.EventMetadata{Branch: &branch},
		RawPayload: []byte(`{"ref":"refs/heads/main"}`),
		ReceivedAt: time.Now().UTC(),
	}
}

func receive(t *testing.T, messages <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-messages:
		msg.Ack()
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for broadcast")
		return nil
	}
}

// TestHubBroadcastDelivers tests that a broadcast reaches a subscriber as the normalized view.
func TestHubBroadcastDelivers(t *testing.T) {
	h, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := h.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := h.Broadcast(context.Background(), testEvent("delivery-1")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	msg := receive(t, messages)
	var view storage.EventView
	if err := json.Unmarshal(msg.Payload, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.DeliveryID != "delivery-1" || view.EventType != "push" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Metadata.Branch == nil || *view.Metadata.Branch != "main" {
		t.Fatalf("expected branch metadata, got %v", view.Metadata.Branch)
	}
}

// TestHubBroadcastFansOut tests that every subscriber receives every broadcast.
func TestHubBroadcastFansOut(t *testing.T) {
	h, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := h.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe first: %v", err)
	}
	second, err := h.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe second: %v", err)
	}

	if err := h.Broadcast(context.Background(), testEvent("delivery-2")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	for _, messages := range []<-chan *message.Message{first, second} {
		msg := receive(t, messages)
		var view storage.EventView
		if err := json.Unmarshal(msg.Payload, &view); err != nil {
			t.Fatalf("decode view: %v", err)
		}
		if view.DeliveryID != "delivery-2" {
			t.Fatalf("expected delivery-2, got %q", view.DeliveryID)
		}
	}
}

// TestObserverCountStartsAtZero tests the initial observer count.
func TestObserverCountStartsAtZero(t *testing.T) {
	h, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	defer h.Close()

	if count := h.ObserverCount(); count != 0 {
		t.Fatalf("expected 0 observers, got %d", count)
	}
}

// TestEventStreamBackfill tests that the initial stream response is the recent-events backfill.
func TestEventStreamBackfill(t *testing.T) {
	store := &stubStore{recent: []storage.StoredEvent{testEvent("b"), testEvent("a")}}
	stream := &eventStream{store: store, limit: 50, logger: discardLogger()}

	req := httptest.NewRequest("GET", "/events/stream", nil)
	rec := httptest.NewRecorder()

	payload, ok := stream.InitialStreamResponse(rec, req)
	if !ok {
		t.Fatalf("expected backfill to succeed")
	}
	if store.lastLimit != 50 {
		t.Fatalf("expected backfill limit 50, got %d", store.lastLimit)
	}
	views, isViews := payload.([]storage.EventView)
	if !isViews {
		t.Fatalf("expected []storage.EventView, got %T", payload)
	}
	if len(views) != 2 || views[0].DeliveryID != "b" || views[1].DeliveryID != "a" {
		t.Fatalf("unexpected backfill order: %+v", views)
	}
}

// TestEventStreamBackfillError tests that a failing backfill query rejects the connection.
func TestEventStreamBackfillError(t *testing.T) {
	store := &stubStore{recentErr: errors.New("connection refused")}
	stream := &eventStream{store: store, limit: 50, logger: discardLogger()}

	req := httptest.NewRequest("GET", "/events/stream", nil)
	rec := httptest.NewRecorder()

	if _, ok := stream.InitialStreamResponse(rec, req); ok {
		t.Fatalf("expected backfill failure to reject the stream")
	}
	if rec.Code != 500 {
		t.Fatalf("expected 500 status, got %d", rec.Code)
	}
}

// TestEventStreamNext tests decoding of live broadcast messages.
func TestEventStreamNext(t *testing.T) {
	stream := &eventStream{store: &stubStore{}, limit: 50, logger: discardLogger()}
	req := httptest.NewRequest("GET", "/events/stream", nil)

	payload, _ := json.Marshal(storage.ToView(testEvent("delivery-3")))
	msg := message.NewMessage(watermill.NewUUID(), payload)

	resp, ok := stream.NextStreamResponse(req, msg)
	if !ok {
		t.Fatalf("expected live message to decode")
	}
	view, isView := resp.(storage.EventView)
	if !isView {
		t.Fatalf("expected storage.EventView, got %T", resp)
	}
	if view.DeliveryID != "delivery-3" {
		t.Fatalf("expected delivery-3, got %q", view.DeliveryID)
	}

	bad := message.NewMessage(watermill.NewUUID(), []byte("not json"))
	if _, ok := stream.NextStreamResponse(req, bad); ok {
		t.Fatalf("expected undecodable message to be dropped")
	}
}
