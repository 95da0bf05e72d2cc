package protocol

import "time"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActorID         string `json:"actor_id"`
	DisplayName     string `json:"display_name,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActorID         string `json:"actor_id"`
}

// CMD (client -> server). Target is used by open, AssetID by offer/unoffer,
// Ready by ready (absent means true).
type CmdMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Op              string `json:"op"`
	Target          string `json:"target,omitempty"`
	AssetID         string `json:"asset_id,omitempty"`
	Ready           *bool  `json:"ready,omitempty"`
}

// RESULT (server -> client), one per CMD.
type ResultMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Ref             string       `json:"ref"`
	OK              bool         `json:"ok"`
	Code            string       `json:"code,omitempty"`
	Message         string       `json:"message"`
	Session         *SessionView `json:"session,omitempty"`
}

// NOTICE (server -> client): something changed that the receiver did not do.
type NoticeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	Text            string `json:"text"`
}

type SessionView struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	ExpiresAt time.Time   `json:"expires_at"`
	Parties   []PartyView `json:"parties"`
}

type PartyView struct {
	ActorID  string   `json:"actor_id"`
	Label    string   `json:"label,omitempty"`
	Offers   []string `json:"offers"`
	Ready    bool     `json:"ready"`
	Accepted bool     `json:"accepted"`
}
