package hub

import (
	"context"
)

// Offer relays a session offer to the other connections of roomID.
func (h *Hub) Offer(ctx context.Context, connID, roomID string, payload any) error {
	return h.relay(ctx, connID, roomID, EventOffer, "offer", payload)
}

func (h *Hub) Answer(ctx context.Context, connID, roomID string, payload any) error {
	return h.relay(ctx, connID, roomID, EventAnswer, "answer", payload)
}

func (h *Hub) ICECandidate(ctx context.Context, connID, roomID string, payload any) error {
	return h.relay(ctx, connID, roomID, EventICECandidate, "candidate", payload)
}

// relay annotates payload with the sender and fans it out, never back to
// the sender. Payloads are forwarded as received.
func (h *Hub) relay(ctx context.Context, connID, roomID, event, key string, payload any) error {
	identity, err := h.gate(ctx, connID, roomID)
	if err != nil {
		return h.reject(connID, event, roomID, err)
	}

	h.out.Broadcast(roomID, connID, event, map[string]any{
		key:      payload,
		"sender": identity.UserID,
	})
	h.metrics.Relayed(event)
	return nil
}
