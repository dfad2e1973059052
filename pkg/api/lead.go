package api

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Peer identifies the human (or bot) on the far side of a conversation as
// reported by the platform.
type Peer struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Lead is the identity of a conversation endpoint: which connector produced
// it and who is talking. It is constructed once per inbound message and
// never mutated afterwards, so it can safely round-trip through callback
// URLs as JSON.
type Lead struct {
	ConnectorName string         `json:"connector_name"`
	Peer          Peer           `json:"peer"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NewLead builds a lead for the given connector and peer.
func NewLead(connectorName string, peer Peer) *Lead {
	return &Lead{
		ConnectorName: connectorName,
		Peer:          peer,
		Metadata:      map[string]any{},
	}
}

// SessionID returns the canonical conversation key. Two messages from the
// same peer on the same channel always map to the same id, and ids from
// distinct peers never collide because the peer id is platform-unique.
func (l *Lead) SessionID() string {
	return l.ConnectorName + ":" + l.Peer.ID
}

// MarshalLead serializes a lead so it can be embedded in callback tokens.
func MarshalLead(l *Lead) ([]byte, error) {
	return json.Marshal(l)
}

// UnmarshalLead restores a lead serialized by MarshalLead.
func UnmarshalLead(data []byte) (*Lead, error) {
	var l Lead
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return &l, nil
}
