package chat

// ---------------------------------------------
// WebSocket frames
// ---------------------------------------------

const (
	FrameJoin  = "join"
	FrameLeave = "leave"
	FrameSend  = "send"
	FramePing  = "ping"

	FrameJoined = "joined"
	FrameLeft   = "left"
	FramePong   = "pong"
	FrameError  = "error"
)

// WSMessage is what the browser SENDS to us. IDs, timestamps and the user
// are assigned server side.
type WSMessage struct {
	Type    string `json:"type"`
	RoomID  string `json:"room_id,omitempty"`
	Content string `json:"content,omitempty"`
}

// ReplyFrame answers one WSMessage on the same connection.
type ReplyFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ---------------------------------------------
// HTTP payloads
// ---------------------------------------------

type CreateRoomRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type VoteResponse struct {
	ClipID       string `json:"clip_id"`
	VoteCount    int    `json:"vote_count"`
	Approved     bool   `json:"approved"`
	JustApproved bool   `json:"just_approved"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
