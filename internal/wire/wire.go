package wire

import (
	"encoding/json"
	"fmt"
)

// Inbound frame types.
const (
	TypeAuthRequired = "auth-required"
	TypeAuthOK       = "auth-ok"
	TypeAuthInvalid  = "auth-invalid"
	TypeResult       = "result"
	TypeEvent        = "event"
)

// Outbound frame types.
const (
	TypeAuth    = "auth"
	TypeRequest = "request"
)

// Built-in request ops. Callers may send any op; these are the ones the
// engine itself issues.
const (
	OpPing        = "ping"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
)

// Auth is the handshake frame sent immediately after the channel opens.
type Auth struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// NewAuth builds an auth frame for the given token.
func NewAuth(token string) Auth {
	return Auth{Type: TypeAuth, Token: token}
}

// Request is a correlated outbound request.
type Request struct {
	Type   string      `json:"type"`
	ID     uint64      `json:"id"`
	Op     string      `json:"op"`
	Params interface{} `json:"params,omitempty"`
}

// NewRequest builds a correlated request frame.
func NewRequest(id uint64, op string, params interface{}) Request {
	return Request{Type: TypeRequest, ID: id, Op: op, Params: params}
}

// Frame is a decoded inbound frame. Fields are populated according to Type.
type Frame struct {
	Type string `json:"type"`

	// Result fields.
	ID      uint64          `json:"id,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`

	// Event fields.
	SubscriptionID int64  `json:"subscription_id,omitempty"`
	Source         string `json:"source,omitempty"`

	// Handshake fields.
	Reason string `json:"reason,omitempty"`
}

// ErrorInfo is the error half of a failed result frame.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Decode parses an inbound frame and rejects frames without a known type
// discriminator.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("parse frame: %w", err)
	}

	switch f.Type {
	case TypeAuthRequired, TypeAuthOK, TypeAuthInvalid, TypeResult, TypeEvent:
		return f, nil
	}

	return Frame{}, fmt.Errorf("unknown frame type %q", f.Type)
}

// SubscribeParams are the parameters of a subscribe request.
type SubscribeParams struct {
	EventType string `json:"event_type"`
	Source    string `json:"source,omitempty"`
}

// SubscribedPayload is the result payload of a successful subscribe.
type SubscribedPayload struct {
	SubscriptionID int64 `json:"subscription_id"`
}

// UnsubscribeParams are the parameters of an unsubscribe request.
type UnsubscribeParams struct {
	SubscriptionID int64 `json:"subscription_id"`
}
