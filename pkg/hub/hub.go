package hub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"

	"hookpulse/pkg/storage"

	"github.com/ThreeDotsLabs/watermill"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// eventsTopic is the in-process topic accepted events are broadcast on.
const eventsTopic = "events.accepted"

// Config tunes the broadcast hub.
type Config struct {
	// OutputBuffer is the per-observer channel buffer; a slow observer
	// falls behind on its own buffer without stalling the publisher.
	OutputBuffer  int64
	BackfillLimit int
}

// Hub owns the set of connected observers and pushes every accepted event
// to all of them. There is no delivery guarantee for observers not
// connected at broadcast time and no queueing for late joiners; a newly
// connected observer instead receives a backfill of the most recent
// stored events.
type Hub struct {
	pubsub        *gochannel.GoChannel
	router        wmhttp.SSERouter
	logger        *log.Logger
	backfillLimit int
	observers     atomic.Int64
}

// New creates a hub backed by an in-process watermill pub/sub.
func New(cfg Config, logger *log.Logger) (*Hub, error) {
	if logger == nil {
		logger = log.Default()
	}
	buffer := cfg.OutputBuffer
	if buffer <= 0 {
		buffer = 64
	}
	limit := cfg.BackfillLimit
	if limit <= 0 {
		limit = 50
	}

	wmLogger := watermill.NewStdLogger(false, false)
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: buffer,
	}, wmLogger)

	router, err := wmhttp.NewSSERouter(wmhttp.SSERouterConfig{
		UpstreamSubscriber: pubsub,
		ErrorHandler:       wmhttp.DefaultErrorHandler,
	}, wmLogger)
	if err != nil {
		return nil, err
	}

	return &Hub{
		pubsub:        pubsub,
		router:        router,
		logger:        logger,
		backfillLimit: limit,
	}, nil
}

// Broadcast publishes the event's normalized view to every connected
// observer. The underlying channel is buffered, so a slow observer does
// not block the caller; callers must only invoke Broadcast after the
// event's store write has completed.
func (h *Hub) Broadcast(ctx context.Context, event storage.StoredEvent) error {
	payload, err := json.Marshal(storage.ToView(event))
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return h.pubsub.Publish(eventsTopic, msg)
}

// Subscribe attaches an in-process observer to the broadcast stream. Used
// by tests and embedded consumers; HTTP observers connect through
// StreamHandler.
func (h *Hub) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return h.pubsub.Subscribe(ctx, eventsTopic)
}

// StreamHandler returns the SSE endpoint for observers. On connect the
// observer receives a backfill of the most recent stored events (newest
// first), then one message per accepted event until it disconnects.
func (h *Hub) StreamHandler(store storage.EventStore) http.Handler {
	stream := h.router.AddHandler(eventsTopic, &eventStream{
		store:  store,
		limit:  h.backfillLimit,
		logger: h.logger,
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.observers.Add(1)
		defer h.observers.Add(-1)
		stream(w, r)
	})
}

// ObserverCount reports the number of currently connected observers.
func (h *Hub) ObserverCount() int64 {
	return h.observers.Load()
}

// Run starts the SSE router and blocks until ctx is cancelled. It must be
// running before StreamHandler connections are served.
func (h *Hub) Run(ctx context.Context) error {
	return h.router.Run(ctx)
}

// Running returns a channel that closes once the SSE router is ready.
func (h *Hub) Running() chan struct{} {
	return h.router.Running()
}

// Close tears down the pub/sub, disconnecting all observers.
func (h *Hub) Close() error {
	return h.pubsub.Close()
}

// eventStream adapts the broadcast stream to SSE: the initial response is
// the backfill, subsequent responses are live events.
type eventStream struct {
	store  storage.EventStore
	limit  int
	logger *log.Logger
}

func (s *eventStream) InitialStreamResponse(w http.ResponseWriter, r *http.Request) (interface{}, bool) {
	events, err := s.store.Recent(r.Context(), s.limit)
	if err != nil {
		s.logger.Printf("backfill query failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return nil, false
	}
	views := make([]storage.EventView, 0, len(events))
	for _, event := range events {
		views = append(views, storage.ToView(event))
	}
	return views, true
}

func (s *eventStream) NextStreamResponse(r *http.Request, msg *message.Message) (interface{}, bool) {
	var view storage.EventView
	if err := json.Unmarshal(msg.Payload, &view); err != nil {
		s.logger.Printf("decode broadcast message: %v", err)
		return nil, false
	}
	return view, true
}
