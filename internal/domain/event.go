package domain

import "encoding/json"

const (
	EventMessageCreated = "message.created"
	EventClipApproved   = "clip.approved"
)

// Event is the envelope pushed to room members.
type Event struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	Data   any    `json:"data"`
}

type ClipApproved struct {
	ClipID         string `json:"clip_id"`
	FinalVoteCount int    `json:"final_vote_count"`
}

func NewMessageCreated(m *Message) Event {
	return Event{Type: EventMessageCreated, RoomID: m.RoomID, Data: m}
}

func NewClipApproved(roomID, clipID string, count int) Event {
	return Event{Type: EventClipApproved, RoomID: roomID, Data: ClipApproved{ClipID: clipID, FinalVoteCount: count}}
}

// Encode marshals the event once for fan-out.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
