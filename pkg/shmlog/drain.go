package shmlog

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/srediag/shmlog/pkg/config"
)

// Drain consumes the page until every producer has retired, calling fn for
// each message in claim order, and returns how many messages it emitted.
//
// Between empty passes it sleeps with exponential backoff bounded by cfg.
// Once the liveness count reads zero it makes one more full pass, so the
// messages completed just before the last Retire are not lost. If that pass
// stops on a slot still reserved, Drain returns ErrIncompleteSlot: a
// producer retired without completing its claim.
func (p *Page) Drain(ctx context.Context, cfg config.DrainConfig, fn func(Message)) (int, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.InitialInterval
	eb.MaxInterval = cfg.MaxInterval
	eb.MaxElapsedTime = 0
	eb.Reset()
	bo := backoff.WithContext(eb, ctx)

	total, passes := 0, 0
	for {
		live := p.Live()
		pass := p.ConsumeFunc(fn)
		total += pass.Emitted
		passes++

		if live == 0 {
			p.logger.Debug("log drained",
				zap.Int("messages", total),
				zap.Int("passes", passes),
				zap.Int("end", pass.End))
			if pass.Blocked {
				return total, ErrIncompleteSlot
			}
			return total, nil
		}
		if pass.Emitted > 0 {
			bo.Reset()
			continue
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return total, ctx.Err()
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return total, ctx.Err()
		case <-t.C:
		}
	}
}
