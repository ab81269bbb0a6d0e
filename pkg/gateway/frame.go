package gateway

import "encoding/json"

// DefaultNamespace is used when a connection does not name one.
const DefaultNamespace = "/"

// Event names exchanged with clients.
const (
	EventAuthenticate  = "authenticate"
	EventAuthenticated = "authenticated"
	EventError         = "error"
	EventNotification  = "notification"
	EventBroadcast     = "broadcast"
)

// UserRoom is the room every connection authenticated as userID joins.
func UserRoom(userID string) string {
	return "user:" + userID
}

// Frame is the wire shape of every message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// AuthRequest is the payload of the "authenticate" event.
type AuthRequest struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

// AuthResponse is the payload of the "authenticated" event.
type AuthResponse struct {
	UserID   string `json:"userId"`
	SocketID string `json:"socketId"`
}

// ErrorPayload is the payload of the "error" event.
type ErrorPayload struct {
	Message string `json:"message"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	return json.Marshal(outFrame{Event: event, Data: data})
}
