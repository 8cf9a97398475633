package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Backoff grows the poll interval linearly from Min by Step up to Max.
type Backoff struct {
	Min  time.Duration
	Step time.Duration
	Max  time.Duration
}

var DefaultBackoff = Backoff{Min: 5 * time.Second, Step: 5 * time.Second, Max: 30 * time.Second}

func (b Backoff) Next(cur time.Duration) time.Duration {
	next := cur + b.Step
	if next < b.Min {
		next = b.Min
	}
	if next > b.Max {
		next = b.Max
	}
	return next
}

type UnreadCounter interface {
	UnreadCount(ctx context.Context) (int, error)
}

// UnreadPoller polls the unread count. The interval is reset to Min when the
// count grows or Reset is called, so active conversations are polled faster.
type UnreadPoller struct {
	source   UnreadCounter
	backoff  Backoff
	onChange func(count int, increased bool)
	reset    chan struct{}
	logger   *zerolog.Logger

	interval time.Duration
	last     int
	seen     bool
}

func NewUnreadPoller(source UnreadCounter, backoff Backoff, onChange func(count int, increased bool), logger *zerolog.Logger) *UnreadPoller {
	if backoff.Min <= 0 {
		backoff = DefaultBackoff
	}
	if backoff.Max < backoff.Min {
		backoff.Max = backoff.Min
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &UnreadPoller{
		source:   source,
		backoff:  backoff,
		onChange: onChange,
		reset:    make(chan struct{}, 1),
		logger:   logger,
		interval: backoff.Min,
	}
}

// Reset shortens the next wait to Min.
func (p *UnreadPoller) Reset() {
	select {
	case p.reset <- struct{}{}:
	default:
	}
}

// observe records a fetched count and returns the wait before the next poll.
func (p *UnreadPoller) observe(count int) time.Duration {
	increased := p.seen && count > p.last
	changed := !p.seen || count != p.last
	p.last, p.seen = count, true

	if increased {
		p.interval = p.backoff.Min
	}
	if changed && p.onChange != nil {
		p.onChange(count, increased)
	}
	return p.advance()
}

// advance returns the current wait and grows the interval for the one after.
func (p *UnreadPoller) advance() time.Duration {
	wait := p.interval
	p.interval = p.backoff.Next(p.interval)
	return wait
}

func (p *UnreadPoller) poll(ctx context.Context) time.Duration {
	count, err := p.source.UnreadCount(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("unread count poll failed")
		}
		return p.advance()
	}
	return p.observe(count)
}

// Run polls until ctx is done.
func (p *UnreadPoller) Run(ctx context.Context) {
	wait := p.poll(ctx)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.reset:
			p.interval = p.backoff.Min
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.advance())
		case <-timer.C:
			timer.Reset(p.poll(ctx))
		}
	}
}
