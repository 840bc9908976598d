package protocol

import (
	"encoding/json"
)

// Represents the type tag carried by every room message
type MessageType string

const (
	// Full content snapshot, sent once to a joining session
	MessageTypeInit MessageType = "init"

	// Current number of sessions in the room
	MessageTypeMembers MessageType = "members"

	// Replacement content from one member (last write wins)
	MessageTypeCodeUpdate MessageType = "code_update"
)

// Close code sent when a client asks for a room the store does not know
const CloseRoomNotFound = 4001

// Inbound is a message received from a client. Unknown types are kept so the
// caller can ignore them.
type Inbound struct {
	Type MessageType `json:"type"`
	Code string      `json:"code"`
}

// Outbound is a message sent to clients. Code and Count are mutually exclusive
// depending on Type.
type Outbound struct {
	Type  MessageType `json:"type"`
	Code  *string     `json:"code,omitempty"`
	Count *int        `json:"count,omitempty"`
}

func Init(code string) Outbound {
	return Outbound{Type: MessageTypeInit, Code: &code}
}

func Members(count int) Outbound {
	return Outbound{Type: MessageTypeMembers, Count: &count}
}

func CodeUpdate(code string) Outbound {
	return Outbound{Type: MessageTypeCodeUpdate, Code: &code}
}

// Extracts the message from a raw text frame
func ParseInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, err
	}
	return in, nil
}

// Encode renders the message as a JSON text frame
func (o Outbound) Encode() ([]byte, error) {
	return json.Marshal(o)
}
