package hub

// Client -> server events.
const (
	EventAuthenticate        = "authenticate"
	EventJoinRoom            = "join-room"
	EventLeaveRoom           = "leave-room"
	EventOffer               = "offer"
	EventAnswer              = "answer"
	EventICECandidate        = "ice-candidate"
	EventCodeUpdate          = "code-update"
	EventRequestInitialState = "request-initial-state"
	EventTrackPresence       = "track-presence"
	EventGetActiveUsers      = "get-active-users"
)

// Server -> client events. Offer, answer, ice-candidate and code-update are
// relayed under their client event names.
const (
	EventRoomUsers    = "room-users"
	EventActiveUsers  = "active-users"
	EventUserJoined   = "user-joined"
	EventUserLeft     = "user-left"
	EventInitialState = "initial-state"
	EventRoomDeleted  = "room-deleted"
	EventError        = "error"
)

type (
	// UserEvent announces a user entering or leaving a room's presence.
	UserEvent struct {
		UserID string `json:"userId"`
	}

	// RoomEvent carries the affected room.
	RoomEvent struct {
		RoomID string `json:"roomId"`
	}
)
