package dto

// EvictConnectionRequest closes a connection and optionally blocks its id
type EvictConnectionRequest struct {
	Block  bool   `json:"block"`
	Reason string `json:"reason,omitempty"`
}

// EvictConnectionResponse reports whether a live socket was closed
type EvictConnectionResponse struct {
	Evicted bool `json:"evicted"`
	Blocked bool `json:"blocked"`
}
