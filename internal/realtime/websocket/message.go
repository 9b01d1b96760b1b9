package websocket

import (
	"encoding/json"
)

type MessageType string

const (
	TypeSubscribe    MessageType = "subscribe"
	TypeUnsubscribe  MessageType = "unsubscribe"
	TypeAuthenticate MessageType = "authenticate"
	TypePing         MessageType = "ping"

	TypeConnection    MessageType = "connection"
	TypeSubscribed    MessageType = "subscribed"
	TypeUnsubscribed  MessageType = "unsubscribed"
	TypeAuthenticated MessageType = "authenticated"
	TypePong          MessageType = "pong"
	TypeError         MessageType = "error"
	TypeBroadcast     MessageType = "broadcast"
)

// InboundFrame is the union of every control frame a client may send.
type InboundFrame struct {
	Type    MessageType     `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Token   string          `json:"token,omitempty"`
	User    json.RawMessage `json:"user,omitempty"`
}

// OutboundFrame is any frame the server writes to a client.
type OutboundFrame interface {
	FrameType() MessageType
}

type PublicUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type ConnectionFrame struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"client_id"`
	Message  string      `json:"message"`
}

type SubscribedFrame struct {
	Type    MessageType `json:"type"`
	Channel string      `json:"channel"`
	Event   string      `json:"event"`
	Message string      `json:"message"`
}

type UnsubscribedFrame struct {
	Type    MessageType `json:"type"`
	Channel string      `json:"channel"`
	Message string      `json:"message"`
}

type AuthenticatedFrame struct {
	Type    MessageType `json:"type"`
	User    PublicUser  `json:"user"`
	Message string      `json:"message"`
}

type PongFrame struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
}

type ErrorFrame struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type BroadcastFrame struct {
	Type      MessageType `json:"type"`
	Channel   string      `json:"channel"`
	Event     string      `json:"event"`
	Data      any         `json:"data"`
	Timestamp string      `json:"timestamp"`
}

func (ConnectionFrame) FrameType() MessageType    { return TypeConnection }
func (SubscribedFrame) FrameType() MessageType    { return TypeSubscribed }
func (UnsubscribedFrame) FrameType() MessageType  { return TypeUnsubscribed }
func (AuthenticatedFrame) FrameType() MessageType { return TypeAuthenticated }
func (PongFrame) FrameType() MessageType          { return TypePong }
func (ErrorFrame) FrameType() MessageType         { return TypeError }
func (BroadcastFrame) FrameType() MessageType     { return TypeBroadcast }

func NewErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: message}
}

func Encode(frame OutboundFrame) ([]byte, error) {
	return json.Marshal(frame)
}
