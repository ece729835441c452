package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hookpulse/pkg/storage"
)

// longContentThreshold marks metadata text fields the UI should truncate.
const longContentThreshold = 200

// ObserverCounter reports how many observers are currently connected to
// the broadcast stream.
type ObserverCounter interface {
	ObserverCount() int64
}

// EventsHandler serves the paginated event listing with optional
// eventType/repository filters.
type EventsHandler struct {
	Store  storage.EventStore
	Logger *log.Logger
}

type eventsResponse struct {
	Events      []storage.EventView `json:"events"`
	TotalPages  int64               `json:"totalPages"`
	CurrentPage int                 `json:"currentPage"`
	Total       int64               `json:"total"`
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	page := intQuery(r, "page", 1)
	limit := intQuery(r, "limit", 20)
	filter := storage.EventFilter{
		EventType:          strings.TrimSpace(r.URL.Query().Get("eventType")),
		RepositoryFullName: strings.TrimSpace(r.URL.Query().Get("repository")),
	}

	events, total, err := h.Store.Find(r.Context(), filter, page, limit)
	if err != nil {
		writeError(w, h.Logger, "list events failed", err)
		return
	}

	views := make([]storage.EventView, 0, len(events))
	for _, event := range events {
		views = append(views, storage.ToView(event))
	}
	totalPages := total / int64(limit)
	if total%int64(limit) != 0 {
		totalPages++
	}
	writeJSON(w, eventsResponse{
		Events:      views,
		TotalPages:  totalPages,
		CurrentPage: page,
		Total:       total,
	})
}

// EventDetailsHandler serves a single event including its full raw payload
// and flags for unusually long metadata text.
type EventDetailsHandler struct {
	Store  storage.EventStore
	Logger *log.Logger
}

type longContentFlags struct {
	PRBody      bool `json:"prBody"`
	CommentBody bool `json:"commentBody"`
	ReviewBody  bool `json:"reviewBody"`
}

type detailedMetadata struct {
	storage.EventMetadata
	HasLongContent longContentFlags `json:"hasLongContent"`
}

type eventDetailsResponse struct {
	storage.EventView
	FullPayload      json.RawMessage  `json:"fullPayload"`
	DetailedMetadata detailedMetadata `json:"detailedMetadata"`
}

func (h *EventDetailsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.PathValue("id")
	event, err := h.Store.GetByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, h.Logger, "get event failed", err)
		return
	}

	writeJSON(w, eventDetailsResponse{
		EventView:   storage.ToView(*event),
		FullPayload: event.RawPayload,
		DetailedMetadata: detailedMetadata{
			EventMetadata: event.Metadata,
			HasLongContent: longContentFlags{
				PRBody:      isLong(event.Metadata.PRBody),
				CommentBody: isLong(event.Metadata.CommentBody),
				ReviewBody:  isLong(event.Metadata.ReviewBody),
			},
		},
	})
}

// StatsHandler serves overall counts: total, trailing 24 hours, and
// per-event-type, recomputed from the store on every call.
type StatsHandler struct {
	Store  storage.EventStore
	Logger *log.Logger
}

type statsResponse struct {
	TotalEvents  int64               `json:"totalEvents"`
	RecentEvents int64               `json:"recentEvents"`
	EventTypes   []storage.TypeCount `json:"eventTypes"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	total, err := h.Store.CountAll(r.Context())
	if err != nil {
		writeError(w, h.Logger, "count events failed", err)
		return
	}
	recent, err := h.Store.CountSince(r.Context(), time.Now().Add(-24*time.Hour))
	if err != nil {
		writeError(w, h.Logger, "count recent events failed", err)
		return
	}
	byType, err := h.Store.CountByType(r.Context())
	if err != nil {
		writeError(w, h.Logger, "count by type failed", err)
		return
	}

	writeJSON(w, statsResponse{
		TotalEvents:  total,
		RecentEvents: recent,
		EventTypes:   byType,
	})
}

// PRAnalyticsHandler serves the pull request activity rollup and comment
// length statistics.
type PRAnalyticsHandler struct {
	Store  storage.EventStore
	Logger *log.Logger
}

type prAnalyticsResponse struct {
	RecentPRActivity  []storage.PRActivity  `json:"recentPRActivity"`
	CommentStatistics []storage.CommentStat `json:"commentStatistics"`
}

func (h *PRAnalyticsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	activity, err := h.Store.PRActivity(r.Context(), 20)
	if err != nil {
		writeError(w, h.Logger, "pr activity failed", err)
		return
	}
	comments, err := h.Store.CommentStats(r.Context())
	if err != nil {
		writeError(w, h.Logger, "comment stats failed", err)
		return
	}

	writeJSON(w, prAnalyticsResponse{
		RecentPRActivity:  activity,
		CommentStatistics: comments,
	})
}

// HealthHandler reports liveness, store connectivity and the connected
// observer count.
type HealthHandler struct {
	Store     storage.EventStore
	Observers ObserverCounter
	Logger    *log.Logger
}

type healthResponse struct {
	Status           string `json:"status"`
	Timestamp        string `json:"timestamp"`
	ConnectedClients int64  `json:"connectedClients"`
	Database         string `json:"database"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	database := "Connected"
	if err := h.Store.Ping(r.Context()); err != nil {
		database = "Disconnected"
		if h.Logger != nil {
			h.Logger.Printf("store ping failed: %v", err)
		}
	}
	var observers int64
	if h.Observers != nil {
		observers = h.Observers.ObserverCount()
	}
	writeJSON(w, healthResponse{
		Status:           "OK",
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		ConnectedClients: observers,
		Database:         database,
	})
}

// IndexHandler lists the service endpoints.
type IndexHandler struct {
	Observers ObserverCounter
}

func (h *IndexHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var observers int64
	if h.Observers != nil {
		observers = h.Observers.ObserverCount()
	}
	writeJSON(w, map[string]interface{}{
		"message": "hookpulse webhook server is running",
		"endpoints": map[string]string{
			"webhook":     "/webhook",
			"stream":      "/events/stream",
			"events":      "/api/events",
			"stats":       "/api/stats",
			"prAnalytics": "/api/pr-analytics",
			"health":      "/health",
		},
		"connectedClients": observers,
	})
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, logger *log.Logger, msg string, err error) {
	if logger != nil {
		logger.Printf("%s: %v", msg, err)
	}
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func isLong(value *string) bool {
	return value != nil && len(*value) > longContentThreshold
}
