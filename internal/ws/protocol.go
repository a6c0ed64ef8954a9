package ws

// Message envelope: every frame is JSON with a "type" discriminator.

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

type RegisteredMessage struct {
	Type       string `json:"type"`
	Identity   string `json:"identity"`
	Generation uint64 `json:"generation"`
}

type QueuePositionMessage struct {
	Type     string `json:"type"`
	Position int    `json:"position"`
}

type WaitingMessage struct {
	Type string `json:"type"`
	Mood string `json:"mood"`
}

type MatchFoundMessage struct {
	Type            string `json:"type"`
	CallID          string `json:"call_id"`
	PartnerID       string `json:"partner_id"`
	DurationSeconds int    `json:"duration"`
	StartedAtMS     int64  `json:"started_at,omitempty"`
}

type WaitingForPartnerMessage struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
}

type CallStartedMessage struct {
	Type            string `json:"type"`
	CallID          string `json:"call_id"`
	StartedAtMS     int64  `json:"started_at"`
	DurationSeconds int    `json:"duration"`
}

type CallWarningMessage struct {
	Type             string `json:"type"`
	CallID           string `json:"call_id"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

type CallEndedMessage struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Reason string `json:"reason"`
}

type ConnectionReplacedMessage struct {
	Type string `json:"type"`
}

type BannedMessage struct {
	Type        string `json:"type"`
	BannedUntil int64  `json:"banned_until"`
	RemainingMS int64  `json:"remaining_ms"`
	BanCount    int    `json:"ban_count"`
}

type HeartbeatAckMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
