package trade

import (
	"context"
	"time"
)

const DefaultReapInterval = 30 * time.Second

// Reaper periodically expires sessions that outlived their TTL. Its interval is
// independent of any session's TTL.
type Reaper struct {
	reg      *Registry
	interval time.Duration
	now      func() time.Time

	// OnExpired runs after a session has moved to EXPIRED.
	OnExpired func(Record)
}

func NewReaper(reg *Registry, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{reg: reg, interval: interval, now: reg.now}
}

func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep expires every overdue session once. A failure on one session is logged
// and left for the next sweep; it never stops the rest.
func (r *Reaper) Sweep(ctx context.Context) int {
	now := r.now()
	expired := 0
	for _, s := range r.reg.Active() {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.Expire(ctx, now)
		if err != nil {
			log.WithField("session_id", s.ID()).WithError(err).Warn("expire session; will retry")
			continue
		}
		if !ok {
			continue
		}
		expired++
		if r.OnExpired != nil {
			r.OnExpired(s.Record())
		}
	}
	if expired > 0 {
		log.WithField("expired", expired).Info("reaper sweep")
	}
	return expired
}
