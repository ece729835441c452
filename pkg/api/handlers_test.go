package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hookpulse/pkg/storage"
)

type stubStore struct {
	events       []storage.StoredEvent
	total        int64
	lastFilter   storage.EventFilter
	lastPage     int
	lastPageSize int
	byID         map[string]*storage.StoredEvent
	countAll     int64
	countSince   int64
	byType       []storage.TypeCount
	prActivity   []storage.PRActivity
	commentStats []storage.CommentStat
	pingErr      error
	failWith     error
}

func (s *stubStore) InsertIfAbsent(ctx context.Context, event storage.StoredEvent) (bool, error) {
	return false, errors.New("not implemented")
}

func (s *stubStore) Find(ctx context.Context, filter storage.EventFilter, page, pageSize int) ([]storage.StoredEvent, int64, error) {
	if s.failWith != nil {
		return nil, 0, s.failWith
	}
	s.lastFilter = filter
	s.lastPage = page
	s.lastPageSize = pageSize
	return s.events, s.total, nil
}

func (s *stubStore) GetByID(ctx context.Context, id string) (*storage.StoredEvent, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	event, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return event, nil
}

func (s *stubStore) Recent(ctx context.Context, limit int) ([]storage.StoredEvent, error) {
	return s.events, nil
}

func (s *stubStore) CountAll(ctx context.Context) (int64, error) {
	return s.countAll, s.failWith
}

func (s *stubStore) CountSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countSince, s.failWith
}

func (s *stubStore) CountByType(ctx context.Context) ([]storage.TypeCount, error) {
	return s.byType, s.failWith
}

func (s *stubStore) PRActivity(ctx context.Context, limit int) ([]storage.PRActivity, error) {
	return s.prActivity, s.failWith
}

func (s *stubStore) CommentStats(ctx context.Context) ([]storage.CommentStat, error) {
	return s.commentStats, s.failWith
}

func (s *stubStore) Ping(ctx context.Context) error { return s.pingErr }
func (s *stubStore) Close() error                   { return nil }

type stubObservers struct{ count int64 }

func (o *stubObservers) ObserverCount() int64 { return o.count }

func storedEvent(id, eventType string) storage.StoredEvent {
	return storage.StoredEvent{
		ID:         id,
		DeliveryID: "delivery-" + id,
		EventType:  eventType,
		Repository: storage.RepositoryInfo{Name: "repo", FullName: "octo/repo", Owner: "octo"},
		Sender:     storage.SenderInfo{Login: "octo"},
		RawPayload: []byte(`{"ref":"refs/heads/main"}`),
		ReceivedAt: time.Now().UTC(),
	}
}

// TestEventsHandlerPagination tests the listing response shape and page math.
func TestEventsHandlerPagination(t *testing.T) {
	store := &stubStore{
		events: []storage.StoredEvent{storedEvent("1", "push"), storedEvent("2", "push")},
		total:  5,
	}
	handler := &EventsHandler{Store: store}

	req := httptest.NewRequest(http.MethodGet, "/api/events?page=2&limit=2", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Events      []storage.EventView `json:"events"`
		TotalPages  int64               `json:"totalPages"`
		CurrentPage int                 `json:"currentPage"`
		Total       int64               `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 5 || resp.TotalPages != 3 || resp.CurrentPage != 2 {
		t.Fatalf("unexpected paging: %+v", resp)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(resp.Events))
	}
	if store.lastPage != 2 || store.lastPageSize != 2 {
		t.Fatalf("expected page 2 size 2 passed through, got %d/%d", store.lastPage, store.lastPageSize)
	}
}

// TestEventsHandlerFilters tests that query filters reach the store.
func TestEventsHandlerFilters(t *testing.T) {
	store := &stubStore{}
	handler := &EventsHandler{Store: store}

	req := httptest.NewRequest(http.MethodGet, "/api/events?eventType=push&repository=octo/repo", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if store.lastFilter.EventType != "push" || store.lastFilter.RepositoryFullName != "octo/repo" {
		t.Fatalf("unexpected filter: %+v", store.lastFilter)
	}
	if store.lastPage != 1 || store.lastPageSize != 20 {
		t.Fatalf("expected default paging, got %d/%d", store.lastPage, store.lastPageSize)
	}
}

func detailsRequest(t *testing.T, store *stubStore, id string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("GET /api/events/{id}/details", &EventDetailsHandler{Store: store})
	req := httptest.NewRequest(http.MethodGet, "/api/events/"+id+"/details", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// TestEventDetailsHandler tests the full payload and long-content flags.
func TestEventDetailsHandler(t *testing.T) {
	longBody := strings.Repeat("x", 201)
	shortBody := "short"
	event := storedEvent("abc", "pull_request")
	event.Metadata.PRBody = &longBody
	event.Metadata.ReviewBody = &shortBody
	store := &stubStore{byID: map[string]*storage.StoredEvent{"abc": &event}}

	rec := detailsRequest(t, store, "abc")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		ID          string          `json:"id"`
		FullPayload json.RawMessage `json:"fullPayload"`
		Detailed    struct {
			HasLongContent struct {
				PRBody      bool `json:"prBody"`
				CommentBody bool `json:"commentBody"`
				ReviewBody  bool `json:"reviewBody"`
			} `json:"hasLongContent"`
		} `json:"detailedMetadata"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "abc" {
		t.Fatalf("expected id abc, got %q", resp.ID)
	}
	if string(resp.FullPayload) != `{"ref":"refs/heads/main"}` {
		t.Fatalf("expected full payload, got %s", resp.FullPayload)
	}
	if !resp.Detailed.HasLongContent.PRBody {
		t.Fatalf("expected long pr body flag")
	}
	if resp.Detailed.HasLongContent.ReviewBody || resp.Detailed.HasLongContent.CommentBody {
		t.Fatalf("expected short and absent bodies unflagged")
	}
}

// TestEventDetailsHandlerNotFound tests the 404 for unknown ids.
func TestEventDetailsHandlerNotFound(t *testing.T) {
	rec := detailsRequest(t, &stubStore{byID: map[string]*storage.StoredEvent{}}, "missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

// TestStatsHandler tests the aggregate counts response.
func TestStatsHandler(t *testing.T) {
	store := &stubStore{
		countAll:   5,
		countSince: 3,
		byType: []storage.TypeCount{
			{EventType: "push", Count: 3},
			{EventType: "issues", Count: 2},
		},
	}
	handler := &StatsHandler{Store: store}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		TotalEvents  int64               `json:"totalEvents"`
		RecentEvents int64               `json:"recentEvents"`
		EventTypes   []storage.TypeCount `json:"eventTypes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalEvents != 5 || resp.RecentEvents != 3 {
		t.Fatalf("unexpected counts: %+v", resp)
	}
	if len(resp.EventTypes) != 2 || resp.EventTypes[0].EventType != "push" {
		t.Fatalf("unexpected type counts: %+v", resp.EventTypes)
	}
}

// TestStatsHandlerStoreError tests that store failures surface as a 500.
func TestStatsHandlerStoreError(t *testing.T) {
	handler := &StatsHandler{Store: &stubStore{failWith: errors.New("connection refused")}}
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

// TestPRAnalyticsHandler tests the analytics response shape.
func TestPRAnalyticsHandler(t *testing.T) {
	store := &stubStore{
		prActivity: []storage.PRActivity{
			{PullRequestNumber: 2, RepositoryName: "octo/repo", EventCount: 1, LastActivity: time.Now().UTC()},
		},
		commentStats: []storage.CommentStat{
			{EventType: "issue_comment", Count: 2, AvgLength: 3},
		},
	}
	handler := &PRAnalyticsHandler{Store: store}

	req := httptest.NewRequest(http.MethodGet, "/api/pr-analytics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		RecentPRActivity  []storage.PRActivity  `json:"recentPRActivity"`
		CommentStatistics []storage.CommentStat `json:"commentStatistics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.RecentPRActivity) != 1 || resp.RecentPRActivity[0].PullRequestNumber != 2 {
		t.Fatalf("unexpected pr activity: %+v", resp.RecentPRActivity)
	}
	if len(resp.CommentStatistics) != 1 || resp.CommentStatistics[0].AvgLength != 3 {
		t.Fatalf("unexpected comment stats: %+v", resp.CommentStatistics)
	}
}

// TestHealthHandler tests the healthy and degraded responses.
func TestHealthHandler(t *testing.T) {
	handler := &HealthHandler{Store: &stubStore{}, Observers: &stubObservers{count: 3}}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp struct {
		Status           string `json:"status"`
		Timestamp        string `json:"timestamp"`
		ConnectedClients int64  `json:"connectedClients"`
		Database         string `json:"database"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "OK" || resp.Database != "Connected" || resp.ConnectedClients != 3 {
		t.Fatalf("unexpected health: %+v", resp)
	}
	if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
		t.Fatalf("expected RFC3339 timestamp, got %q", resp.Timestamp)
	}

	degraded := &HealthHandler{Store: &stubStore{pingErr: errors.New("down")}, Observers: &stubObservers{}}
	rec = httptest.NewRecorder()
	degraded.ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode degraded response: %v", err)
	}
	if resp.Database != "Disconnected" {
		t.Fatalf("expected Disconnected database, got %q", resp.Database)
	}
}

// TestIndexHandler tests the endpoint listing.
func TestIndexHandler(t *testing.T) {
	handler := &IndexHandler{Observers: &stubObservers{count: 1}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp struct {
		Message          string            `json:"message"`
		Endpoints        map[string]string `json:"endpoints"`
		ConnectedClients int64             `json:"connectedClients"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Endpoints["webhook"] != "/webhook" || resp.Endpoints["stream"] != "/events/stream" {
		t.Fatalf("unexpected endpoints: %+v", resp.Endpoints)
	}
	if resp.ConnectedClients != 1 {
		t.Fatalf("expected 1 connected client, got %d", resp.ConnectedClients)
	}
}

// TestMethodNotAllowed tests that write methods are rejected on the query endpoints.
func TestMethodNotAllowed(t *testing.T) {
	handlers := []http.Handler{
		&EventsHandler{Store: &stubStore{}},
		&StatsHandler{Store: &stubStore{}},
		&PRAnalyticsHandler{Store: &stubStore{}},
		&HealthHandler{Store: &stubStore{}},
	}
	for _, handler := range handlers {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405 from %T, got %d", handler, rec.Code)
		}
	}
}
