package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"hookpulse/internal"
	"hookpulse/pkg/storage"

	gh "github.com/google/go-github/v57/github"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Store is the slice of the event store the pipeline needs: an atomic
// insert that reports false when the delivery id is already recorded.
type Store interface {
	InsertIfAbsent(ctx context.Context, event storage.StoredEvent) (bool, error)
}

// Broadcaster pushes an accepted event to the currently connected
// observers.
type Broadcaster interface {
	Broadcast(ctx context.Context, event storage.StoredEvent) error
}

// Handler ingests GitHub webhook deliveries. Each delivery terminates in
// exactly one state: unauthorized (401), malformed (500), duplicate (200,
// no broadcast) or accepted (200, stored then broadcast then forwarded).
type Handler struct {
	secret    string
	store     Store
	hub       Broadcaster
	rules     *internal.RuleEngine
	publisher internal.Publisher
	logger    *log.Logger
	maxBody   int64
}

// Config wires a webhook handler. Rules and Publisher are optional; when
// either is nil accepted events are not forwarded to sinks.
type Config struct {
	Secret    string
	Store     Store
	Hub       Broadcaster
	Rules     *internal.RuleEngine
	Publisher internal.Publisher
	Logger    *log.Logger
	MaxBody   int64
}

func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{
		secret:    cfg.Secret,
		store:     cfg.Store,
		hub:       cfg.Hub,
		rules:     cfg.Rules,
		publisher: cfg.Publisher,
		logger:    logger,
		maxBody:   maxBody,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rawBody, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	eventType := gh.WebHookType(r)
	deliveryID := gh.DeliveryID(r)

	// The signature covers the raw bytes; verify before touching the body.
	if !internal.VerifySignature(rawBody, r.Header.Get(internal.SignatureHeader), h.secret) {
		internal.IncDelivery("unauthorized")
		h.logger.Printf("invalid signature event=%s delivery=%s", eventType, deliveryID)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if deliveryID == "" {
		http.Error(w, "missing delivery id", http.StatusBadRequest)
		return
	}

	if !json.Valid(rawBody) || !gjson.ParseBytes(rawBody).IsObject() {
		internal.IncDelivery("malformed")
		h.logger.Printf("malformed payload event=%s delivery=%s", eventType, deliveryID)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	event := buildStoredEvent(eventType, deliveryID, rawBody)

	// The store write must complete before broadcast so an observer
	// backfilling right after the push sees every event already pushed.
	inserted, err := h.store.InsertIfAbsent(r.Context(), event)
	if err != nil {
		internal.IncDelivery("store_error")
		h.logger.Printf("store insert failed event=%s delivery=%s: %v", eventType, deliveryID, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !inserted {
		internal.IncDelivery("duplicate")
		h.logger.Printf("duplicate delivery event=%s delivery=%s", eventType, deliveryID)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}

	internal.IncDelivery("accepted")
	h.logger.Printf("event accepted event=%s delivery=%s repo=%s", eventType, deliveryID, event.Repository.FullName)

	if h.hub != nil {
		if err := h.hub.Broadcast(r.Context(), event); err != nil {
			internal.IncBroadcastError()
			h.logger.Printf("broadcast failed delivery=%s: %v", deliveryID, err)
		}
	}

	h.forward(r.Context(), event, rawBody)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// forward evaluates the configured rules against the accepted event and
// publishes matches to the sink drivers. Failures are logged and counted;
// they never affect the delivery response.
func (h *Handler) forward(ctx context.Context, event storage.StoredEvent, rawBody []byte) {
	if h.rules == nil || h.publisher == nil {
		return
	}
	action := ""
	if event.Action != nil {
		action = *event.Action
	}
	forwarded := internal.Event{
		Name:       event.EventType,
		DeliveryID: event.DeliveryID,
		Action:     action,
		RawPayload: rawBody,
	}
	for _, match := range h.rules.Evaluate(forwarded) {
		if err := h.publisher.PublishForDrivers(ctx, match.Topic, forwarded, match.Drivers); err != nil {
			h.logger.Printf("publish %s failed delivery=%s: %v", match.Topic, event.DeliveryID, err)
		}
	}
}

func buildStoredEvent(eventType, deliveryID string, rawBody []byte) storage.StoredEvent {
	payload := gjson.ParseBytes(rawBody)

	var action *string
	if value := payload.Get("action"); value.Exists() {
		s := value.String()
		action = &s
	}

	return storage.StoredEvent{
		ID:         uuid.NewString(),
		DeliveryID: deliveryID,
		EventType:  eventType,
		Action:     action,
		Repository: storage.RepositoryInfo{
			Name:     stringOr(payload, "repository.name", "Unknown"),
			FullName: stringOr(payload, "repository.full_name", "Unknown"),
			URL:      stringOr(payload, "repository.html_url", ""),
			Owner:    stringOr(payload, "repository.owner.login", "Unknown"),
		},
		Sender: storage.SenderInfo{
			Login:     stringOr(payload, "sender.login", "Unknown"),
			AvatarURL: stringOr(payload, "sender.avatar_url", ""),
			URL:       stringOr(payload, "sender.html_url", ""),
		},
		Metadata:   internal.ExtractMetadata(eventType, rawBody),
		RawPayload: json.RawMessage(rawBody),
		ReceivedAt: time.Now().UTC(),
	}
}

func stringOr(payload gjson.Result, path, fallback string) string {
	value := payload.Get(path)
	if !value.Exists() || value.String() == "" {
		return fallback
	}
	return value.String()
}
