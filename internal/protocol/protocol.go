package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeCmd     = "CMD"
	TypeResult  = "RESULT"
	TypeNotice  = "NOTICE"
)

// Command ops carried in CMD.
const (
	OpOpen    = "open"
	OpOffer   = "offer"
	OpUnoffer = "unoffer"
	OpReady   = "ready"
	OpAccept  = "accept"
	OpCancel  = "cancel"
	OpShow    = "show"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
