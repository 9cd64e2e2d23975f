package realtime

// Inbound frame from a connected party.
type Frame struct {
	Action    string `json:"action"` // join | leave | send | mark_read
	RequestID string `json:"request_id"`
	Text      string `json:"text,omitempty"`
}

// Outbound event pushed to connected parties.
type Event struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

const (
	EventHistory         = "history"
	EventUnreadSummary   = "unread_summary"
	EventNewMessage      = "new_message"
	EventMessageSentAck  = "message_sent_ack"
	EventReadReceipt     = "read_receipt"
	EventStateChanged    = "state_changed"
	EventParticipantJoin = "participant_joined"
	EventParticipantLeft = "participant_left"
	EventError           = "error"
)

type ReadReceipt struct {
	ReaderID string `json:"reader_id"`
	Count    int64  `json:"count"`
}

type UnreadEntry struct {
	RequestID string `json:"request_id"`
	Count     int64  `json:"count"`
}

type Presence struct {
	UserID string `json:"user_id"`
}

type StateChange struct {
	Action string `json:"action"`
	Status string `json:"status"`
}

type ErrorInfo struct {
	Message string `json:"message"`
}
