// Package ban decides whether an identity may enter the queue and when an
// accumulation of reports turns into a temporary ban. The accumulation
// policy is pluggable; the enforcer itself only applies it.
package ban

import "time"

type Policy interface {
	// ShouldBan reports whether the given report tally crosses the line.
	ShouldBan(reportCount int) bool
	// Duration returns the ban length for the given (1-based) ban count.
	Duration(banCount int) time.Duration
}

// StepPolicy bans after Threshold reports and doubles the base duration for
// every repeat offense.
type StepPolicy struct {
	Threshold int
	Base      time.Duration
}

func (p StepPolicy) ShouldBan(reportCount int) bool {
	return p.Threshold > 0 && reportCount >= p.Threshold
}

func (p StepPolicy) Duration(banCount int) time.Duration {
	d := p.Base
	for i := 1; i < banCount; i++ {
		d *= 2
	}
	return d
}

type Status struct {
	Banned    bool
	Until     time.Time
	Remaining time.Duration
	Count     int
}

type Enforcer struct {
	policy Policy
}

func NewEnforcer(policy Policy) *Enforcer {
	return &Enforcer{policy: policy}
}

// Check evaluates an existing ban. Ledger state is input; the enforcer never
// reads storage itself.
func (e *Enforcer) Check(banUntil *time.Time, banCount int, now time.Time) Status {
	if banUntil == nil || !banUntil.After(now) {
		return Status{Count: banCount}
	}
	return Status{
		Banned:    true,
		Until:     *banUntil,
		Remaining: banUntil.Sub(now),
		Count:     banCount,
	}
}

// OnReport folds one more report into the tally and, if the policy trips,
// returns the new ban window.
func (e *Enforcer) OnReport(reportCount, banCount int, now time.Time) (Status, bool) {
	if !e.policy.ShouldBan(reportCount) {
		return Status{Count: banCount}, false
	}
	newCount := banCount + 1
	until := now.Add(e.policy.Duration(newCount))
	return Status{
		Banned:    true,
		Until:     until,
		Remaining: until.Sub(now),
		Count:     newCount,
	}, true
}
