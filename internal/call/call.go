package call

import (
	"sync"
	"time"
)

type Status string

const (
	StatusAwaitingReady Status = "awaiting_ready"
	StatusRunning       Status = "running"
	StatusEnded         Status = "ended"
)

type EndReason string

const (
	ReasonNormal       EndReason = "normal"
	ReasonReported     EndReason = "reported"
	ReasonDisconnected EndReason = "disconnected"
	ReasonPartnerLeft  EndReason = "partner_left"
	ReasonMaxDuration  EndReason = "max_duration"
)

type Extension struct {
	ID          string
	Minutes     int
	Cost        int64
	Purchaser   string
	PurchasedAt time.Time
}

// Call is the shared state of one matched pair. All mutation happens under
// the coordinator's per-call lock.
type Call struct {
	mu        sync.Mutex
	ID        string
	A         string
	B         string
	MoodA     string
	Base      time.Duration
	CreatedAt time.Time

	status       Status
	readyA       *time.Time
	readyB       *time.Time
	startedAt    time.Time
	extensions   []Extension
	lastRewarded int
	warned       bool
	endReason    EndReason
}

func (c *Call) Partner(identity string) string {
	if identity == c.A {
		return c.B
	}
	return c.A
}

func (c *Call) Has(identity string) bool {
	return identity == c.A || identity == c.B
}

// extensionMinutes sums applied extension minutes.
func (c *Call) extensionMinutes() int {
	total := 0
	for _, e := range c.extensions {
		total += e.Minutes
	}
	return total
}

// allotted is base plus extensions, never past the max cap.
func (c *Call) allotted(max time.Duration) time.Duration {
	d := c.Base + time.Duration(c.extensionMinutes())*time.Minute
	if d > max {
		d = max
	}
	return d
}

// lastUnrefundedExtensionBy returns the most recent extension the identity
// purchased, for partial refunds at teardown.
func (c *Call) lastUnrefundedExtensionBy(identity string) *Extension {
	for i := len(c.extensions) - 1; i >= 0; i-- {
		if c.extensions[i].Purchaser == identity {
			return &c.extensions[i]
		}
	}
	return nil
}
