package client

// Wire structs for the frames this side sends and reads. Mirrors the server
// envelope; kept local so the client stays a standalone protocol peer.

type RegisterMessage struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
}

type JoinQueueMessage struct {
	Type       string `json:"type"`
	Mood       string `json:"mood"`
	CardID     string `json:"card_id,omitempty"`
	IsPriority bool   `json:"is_priority,omitempty"`
	Gender     string `json:"gender,omitempty"`
	GenderPref string `json:"gender_pref,omitempty"`
}

type CallReadyMessage struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
}

type EndCallMessage struct {
	Type             string `json:"type"`
	Reason           string `json:"reason,omitempty"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
}

type inboundMessage struct {
	Type             string `json:"type"`
	Identity         string `json:"identity,omitempty"`
	Position         int    `json:"position,omitempty"`
	Mood             string `json:"mood,omitempty"`
	CallID           string `json:"call_id,omitempty"`
	PartnerID        string `json:"partner_id,omitempty"`
	DurationSeconds  int    `json:"duration,omitempty"`
	StartedAtMS      int64  `json:"started_at,omitempty"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
	Reason           string `json:"reason,omitempty"`
	BannedUntil      int64  `json:"banned_until,omitempty"`
	RemainingMS      int64  `json:"remaining_ms,omitempty"`
	BanCount         int    `json:"ban_count,omitempty"`
	Message          string `json:"message,omitempty"`
}

type pendingMatchResponse struct {
	HasMatch    bool   `json:"has_match"`
	CallID      string `json:"call_id"`
	PartnerID   string `json:"partner_id"`
	Duration    int    `json:"duration"`
	StartedAtMS int64  `json:"started_at"`
}
