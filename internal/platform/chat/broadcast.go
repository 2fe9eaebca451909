package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Broadcaster fans an event out to every connection registered to a
// consultation. Delivery is best effort: individual peer failures are
// housekeeping (the dead connection is removed), never an error surfaced to
// the caller.
type Broadcaster struct {
	registry    *Registry
	sendTimeout time.Duration
	logger      zerolog.Logger
}

func NewBroadcaster(registry *Registry, sendTimeout time.Duration, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		registry:    registry,
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

// Broadcast delivers event to every connection currently registered to the
// consultation and returns the count of successful deliveries. Each live
// connection receives the event at most once. Connections that fail the
// timed send are deduplicated, unregistered from both indices exactly once,
// and closed.
func (b *Broadcaster) Broadcast(consultationID uuid.UUID, event Event) int {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event.Type).Msg("chat: failed to marshal event")
		return 0
	}

	snapshot := b.registry.ConsultationClients(consultationID)
	if len(snapshot) == 0 {
		return 0
	}

	delivered := 0
	failed := make(map[*Client]struct{})
	for _, client := range snapshot {
		if client.TrySend(data, b.sendTimeout) {
			delivered++
			continue
		}
		failed[client] = struct{}{}
	}

	for client := range failed {
		b.registry.Unregister(client)
		client.Close()
		b.logger.Debug().
			Str("consultation_id", consultationID.String()).
			Str("user_id", client.UserID.String()).
			Msg("chat: dropped dead connection during broadcast")
	}

	return delivered
}
