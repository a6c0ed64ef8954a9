// Package call owns the lifecycle of an active call: the two-phase ready
// handshake, the server-authoritative start time, extension application,
// the maximum-duration watchdog, and termination with economy settlement.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"ventline/internal/ban"
	"ventline/internal/ledger"
	"ventline/internal/queue"
	"ventline/internal/store"
)

// Events is how the coordinator reaches the transport layer. Implementations
// must tolerate the identity having no live connection.
type Events interface {
	MatchFound(identity, callID, partner string, duration time.Duration, startedAt *time.Time)
	WaitingForPartner(identity, callID string)
	CallStarted(identity, callID string, startedAt time.Time, duration time.Duration)
	CallWarning(identity, callID string, remaining time.Duration)
	CallEnded(identity, callID string, reason EndReason)
}

// Store is the slice of persistence the coordinator archives through.
type Store interface {
	CreateCall(ctx context.Context, rec store.CallRecord) error
	MarkCallStarted(ctx context.Context, callID string, at time.Time) error
	FinishCall(ctx context.Context, callID, endReason string, elapsedSeconds int, endedAt time.Time) error
}

type Config struct {
	BaseDuration  time.Duration
	MaxDuration   time.Duration
	WarningWindow time.Duration
}

type Coordinator struct {
	cfg      Config
	store    Store
	ledger   *ledger.Ledger
	enforcer *ban.Enforcer
	events   Events

	mu         sync.Mutex
	calls      map[string]*Call
	byIdentity map[string]*Call

	now func() time.Time
}

func NewCoordinator(cfg Config, st Store, led *ledger.Ledger, enf *ban.Enforcer, ev Events) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		store:      st,
		ledger:     led,
		enforcer:   enf,
		events:     ev,
		calls:      map[string]*Call{},
		byIdentity: map[string]*Call{},
		now:        time.Now,
	}
}

// StartWatchdog drives minute rewards, duration warnings, and forced
// termination. One ticker for all calls.
func (c *Coordinator) StartWatchdog(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.Tick(ctx, now)
			}
		}
	}()
}

// Create forms a call from a matched pair and notifies both sides. The pair
// was already removed from the queue atomically by the matcher. An identity
// holds at most one live call; a pair containing a busy identity is refused
// and its existing call is left untouched.
func (c *Coordinator) Create(ctx context.Context, m queue.Match) (*Call, error) {
	now := c.now()
	cl := &Call{
		ID:        store.NewID(),
		A:         m.A.Identity,
		B:         m.B.Identity,
		MoodA:     string(m.A.Mood),
		Base:      c.cfg.BaseDuration,
		CreatedAt: now,
		status:    StatusAwaitingReady,
	}

	c.mu.Lock()
	if _, busy := c.byIdentity[cl.A]; busy {
		c.mu.Unlock()
		return nil, ErrAlreadyInCall
	}
	if _, busy := c.byIdentity[cl.B]; busy {
		c.mu.Unlock()
		return nil, ErrAlreadyInCall
	}
	c.calls[cl.ID] = cl
	c.byIdentity[cl.A] = cl
	c.byIdentity[cl.B] = cl
	c.mu.Unlock()

	if err := c.store.CreateCall(ctx, store.CallRecord{
		ID:           cl.ID,
		ParticipantA: cl.A,
		ParticipantB: cl.B,
		MoodA:        cl.MoodA,
		BaseSeconds:  int(cl.Base / time.Second),
		Status:       string(StatusAwaitingReady),
	}); err != nil {
		c.mu.Lock()
		delete(c.calls, cl.ID)
		delete(c.byIdentity, cl.A)
		delete(c.byIdentity, cl.B)
		c.mu.Unlock()
		return nil, err
	}

	for _, id := range []string{cl.A, cl.B} {
		if err := c.ledger.ConsumeMatch(ctx, id); err != nil && !errors.Is(err, ledger.ErrQuotaExhausted) {
			log.Warn().Err(err).Str("identity", id).Msg("consume daily match failed")
		}
		c.events.MatchFound(id, cl.ID, cl.Partner(id), cl.Base, nil)
	}
	log.Info().Str("call_id", cl.ID).Str("mood_a", cl.MoodA).Msg("call_created")
	return cl, nil
}

// Lookup returns the identity's current call, if any.
func (c *Coordinator) Lookup(identity string) (*Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.byIdentity[identity]
	return cl, ok
}

// PendingMatch serves the stateless poll fallback: the current call seen
// from one identity, nil when there is none.
func (c *Coordinator) PendingMatch(identity string) (callID, partner string, duration time.Duration, startedAt *time.Time, ok bool) {
	c.mu.Lock()
	cl := c.byIdentity[identity]
	c.mu.Unlock()
	if cl == nil {
		return "", "", 0, nil, false
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.status == StatusEnded {
		return "", "", 0, nil, false
	}
	var started *time.Time
	if !cl.startedAt.IsZero() {
		t := cl.startedAt
		started = &t
	}
	return cl.ID, cl.Partner(identity), cl.allotted(c.cfg.MaxDuration), started, true
}

// SignalReady marks one side ready. Stale callIDs (a signal raced with a
// rematch or teardown) are ignored per the protocol, not surfaced as errors.
func (c *Coordinator) SignalReady(ctx context.Context, identity, callID string) error {
	c.mu.Lock()
	cl := c.byIdentity[identity]
	c.mu.Unlock()
	if cl == nil || cl.ID != callID {
		log.Debug().Str("identity", identity).Str("call_id", callID).Msg("ready signal for stale call ignored")
		return ErrStaleCall
	}

	cl.mu.Lock()
	if cl.status == StatusEnded {
		cl.mu.Unlock()
		return ErrStaleCall
	}
	now := c.now()
	if identity == cl.A {
		if cl.readyA == nil {
			cl.readyA = &now
		}
	} else {
		if cl.readyB == nil {
			cl.readyB = &now
		}
	}
	bothReady := cl.readyA != nil && cl.readyB != nil
	if bothReady && cl.status == StatusAwaitingReady {
		// single running transition; startedAt is set exactly once here
		cl.status = StatusRunning
		cl.startedAt = now
		duration := cl.allotted(c.cfg.MaxDuration)
		cl.mu.Unlock()
		if err := c.store.MarkCallStarted(ctx, cl.ID, now); err != nil {
			log.Error().Err(err).Str("call_id", cl.ID).Msg("mark call started failed")
		}
		c.events.CallStarted(cl.A, cl.ID, now, duration)
		c.events.CallStarted(cl.B, cl.ID, now, duration)
		log.Info().Str("call_id", cl.ID).Time("started_at", now).Msg("call_started")
		return nil
	}
	started := cl.status == StatusRunning
	startedAt := cl.startedAt
	duration := cl.allotted(c.cfg.MaxDuration)
	cl.mu.Unlock()

	if started {
		// re-sent ready after reconnect: re-confirm the running state
		c.events.CallStarted(identity, cl.ID, startedAt, duration)
		return nil
	}
	c.events.WaitingForPartner(identity, cl.ID)
	return nil
}

// ApplyExtension extends the deadline, truncating to the headroom left under
// the maximum duration, and debits the purchaser for the minutes actually
// granted, never the requested amount.
func (c *Coordinator) ApplyExtension(ctx context.Context, identity, callID string, minutes int, pricePerMin int64) (int, int64, error) {
	if minutes <= 0 {
		return 0, 0, ErrBadMinutes
	}
	c.mu.Lock()
	cl := c.byIdentity[identity]
	c.mu.Unlock()
	if cl == nil || cl.ID != callID {
		return 0, 0, ErrStaleCall
	}

	cl.mu.Lock()
	if cl.status == StatusEnded {
		cl.mu.Unlock()
		return 0, 0, ErrCallEnded
	}
	headroom := int((c.cfg.MaxDuration - cl.allotted(c.cfg.MaxDuration)) / time.Minute)
	if headroom <= 0 {
		cl.mu.Unlock()
		return 0, 0, ErrNoHeadroom
	}
	granted := minutes
	if granted > headroom {
		granted = headroom
	}
	cost := int64(granted) * pricePerMin
	ext := Extension{
		ID:          store.NewID(),
		Minutes:     granted,
		Cost:        cost,
		Purchaser:   identity,
		PurchasedAt: c.now(),
	}
	cl.extensions = append(cl.extensions, ext)
	cl.mu.Unlock()

	balance, err := c.ledger.DebitExtension(ctx, identity, cl.ID, ext.ID, granted, cost)
	if err != nil {
		// roll the minutes back; the debit never happened
		cl.mu.Lock()
		for i, e := range cl.extensions {
			if e.ID == ext.ID {
				cl.extensions = append(cl.extensions[:i], cl.extensions[i+1:]...)
				break
			}
		}
		cl.mu.Unlock()
		return 0, 0, err
	}

	// the pushed-out deadline gets its own near-end warning
	cl.mu.Lock()
	cl.warned = false
	cl.mu.Unlock()

	log.Info().Str("call_id", cl.ID).Str("extension_id", ext.ID).Int("minutes", granted).Int64("cost", cost).Msg("extension_applied")
	return granted, balance, nil
}

// EndCall terminates for both sides. Idempotent: ending an ended call is a
// no-op. remaining is the terminator's view of unused time, used for the
// partial extension refund.
func (c *Coordinator) EndCall(ctx context.Context, identity string, reason EndReason, remaining time.Duration) error {
	c.mu.Lock()
	cl := c.byIdentity[identity]
	c.mu.Unlock()
	if cl == nil {
		return nil
	}
	return c.endCall(ctx, cl, identity, reason, remaining, false)
}

func (c *Coordinator) endCall(ctx context.Context, cl *Call, terminator string, reason EndReason, remaining time.Duration, systemEnd bool) error {
	if !cl.Has(terminator) {
		return ErrNotInCall
	}
	now := c.now()

	cl.mu.Lock()
	if cl.status == StatusEnded {
		cl.mu.Unlock()
		return nil
	}
	cl.status = StatusEnded
	cl.endReason = reason
	elapsed := time.Duration(0)
	if !cl.startedAt.IsZero() {
		elapsed = now.Sub(cl.startedAt)
	}
	if elapsed > c.cfg.MaxDuration {
		elapsed = c.cfg.MaxDuration
	}
	refundExt := cl.lastUnrefundedExtensionBy(terminator)
	cl.mu.Unlock()

	if refundExt != nil && remaining > 0 {
		unused := remaining
		if max := time.Duration(refundExt.Minutes) * time.Minute; unused > max {
			unused = max
		}
		pts, refunded, err := c.ledger.RefundUnused(ctx, terminator, refundExt.ID, refundExt.Minutes, refundExt.Cost, unused)
		if err != nil {
			log.Error().Err(err).Str("call_id", cl.ID).Str("extension_id", refundExt.ID).Msg("extension refund failed")
		} else if refunded {
			log.Info().Str("call_id", cl.ID).Str("extension_id", refundExt.ID).Int64("points", pts).Msg("extension_refunded")
		}
	}

	if reason == ReasonReported {
		c.applyReport(ctx, cl, terminator, now)
	}

	if err := c.store.FinishCall(ctx, cl.ID, string(reason), int(elapsed/time.Second), now); err != nil {
		log.Error().Err(err).Str("call_id", cl.ID).Msg("archive call failed")
	}

	c.mu.Lock()
	delete(c.calls, cl.ID)
	if c.byIdentity[cl.A] == cl {
		delete(c.byIdentity, cl.A)
	}
	if c.byIdentity[cl.B] == cl {
		delete(c.byIdentity, cl.B)
	}
	c.mu.Unlock()

	partner := cl.Partner(terminator)
	c.events.CallEnded(terminator, cl.ID, reason)
	if systemEnd {
		c.events.CallEnded(partner, cl.ID, reason)
	} else {
		c.events.CallEnded(partner, cl.ID, partnerReason(reason))
	}
	log.Info().Str("call_id", cl.ID).Str("reason", string(reason)).Int64("elapsed_s", int64(elapsed/time.Second)).Msg("call_ended")
	return nil
}

// partnerReason maps the terminator's reason to what the other side sees:
// a normal hang-up or a silent drop both read as the partner leaving.
func partnerReason(reason EndReason) EndReason {
	switch reason {
	case ReasonNormal, ReasonDisconnected:
		return ReasonPartnerLeft
	}
	return reason
}

func (c *Coordinator) applyReport(ctx context.Context, cl *Call, reporter string, now time.Time) {
	reported := cl.Partner(reporter)
	count, err := c.ledger.ReportPenalty(ctx, cl.ID, reporter, reported)
	if err != nil {
		log.Error().Err(err).Str("call_id", cl.ID).Str("reported", reported).Msg("report penalty failed")
		return
	}
	row, err := c.ledger.Snapshot(ctx, reported)
	if err != nil {
		log.Error().Err(err).Str("identity", reported).Msg("ledger lookup for ban check failed")
		return
	}
	if status, banned := c.enforcer.OnReport(count, row.BanCount, now); banned {
		if err := c.ledger.ApplyBan(ctx, reported, status.Until, status.Count); err != nil {
			log.Error().Err(err).Str("identity", reported).Msg("apply ban failed")
			return
		}
		log.Info().Str("identity", reported).Time("until", status.Until).Int("ban_count", status.Count).Msg("identity_banned")
	}
}

// Tick recomputes every running call against its server-issued start time:
// per-minute rewards, the one-time warning, and forced termination.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) {
	c.mu.Lock()
	running := make([]*Call, 0, len(c.calls))
	for _, cl := range c.calls {
		running = append(running, cl)
	}
	c.mu.Unlock()

	for _, cl := range running {
		cl.mu.Lock()
		if cl.status != StatusRunning {
			cl.mu.Unlock()
			continue
		}
		elapsed := now.Sub(cl.startedAt)
		allotted := cl.allotted(c.cfg.MaxDuration)

		rewardUpto := int(elapsed / time.Minute)
		firstMinute := cl.lastRewarded + 1
		if rewardUpto > cl.lastRewarded {
			cl.lastRewarded = rewardUpto
		}
		warn := false
		if !cl.warned && allotted-elapsed <= c.cfg.WarningWindow && elapsed < allotted {
			cl.warned = true
			warn = true
		}
		expired := elapsed >= allotted
		atMax := elapsed >= c.cfg.MaxDuration
		remaining := allotted - elapsed
		a, b, id := cl.A, cl.B, cl.ID
		cl.mu.Unlock()

		for minute := firstMinute; minute <= rewardUpto; minute++ {
			for _, identity := range []string{a, b} {
				if err := c.ledger.MinuteReward(ctx, identity, id, minute); err != nil {
					log.Warn().Err(err).Str("call_id", id).Str("identity", identity).Msg("minute reward failed")
				}
			}
		}
		if warn {
			c.events.CallWarning(a, id, remaining)
			c.events.CallWarning(b, id, remaining)
		}
		if expired {
			reason := ReasonNormal
			if atMax {
				reason = ReasonMaxDuration
			}
			_ = c.endCall(ctx, cl, a, reason, 0, true)
		}
	}
}

// ActiveCalls reports how many calls are live, for metrics.
func (c *Coordinator) ActiveCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}
