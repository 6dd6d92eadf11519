// Package stats counts gate decisions per key for the admin API.
package stats

import (
	"context"
	"errors"

	"lompapi/internal/gate"
)

// Counters is an allowed/denied tally with denials broken down by reason.
type Counters struct {
	Allowed int64            `json:"allowed"`
	Denied  int64            `json:"denied"`
	Reasons map[string]int64 `json:"reasons,omitempty"`
}

func (c *Counters) add(ev gate.Event) {
	if ev.Allowed {
		c.Allowed++
		return
	}
	c.Denied++
	if c.Reasons == nil {
		c.Reasons = make(map[string]int64)
	}
	c.Reasons[ev.Reason.String()]++
}

func (c Counters) clone() Counters {
	out := Counters{Allowed: c.Allowed, Denied: c.Denied}
	if len(c.Reasons) > 0 {
		out.Reasons = make(map[string]int64, len(c.Reasons))
		for k, v := range c.Reasons {
			out.Reasons[k] = v
		}
	}
	return out
}

// Reader exposes recorded counters.
type Reader interface {
	Totals(ctx context.Context) (Counters, error)
	ForKey(ctx context.Context, keyID string) (Counters, error)
}

// Multi fans an event out to several recorders. Every recorder is called; errors are joined.
type Multi []gate.Recorder

func (m Multi) Record(ctx context.Context, ev gate.Event) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
