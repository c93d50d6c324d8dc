package notifications

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var ErrCircuitOpen = errors.New("notifier circuit open")

type ProtectedNotifierConfig struct {
	Timeout          time.Duration // per send
	FailureThreshold int           // consecutive failures that open the circuit
	Cooldown         time.Duration // how long the circuit stays open before a trial send
	Log              *slog.Logger  // state changes; nil discards them
}

// ProtectedNotifier bounds each send with a timeout and stops calling a
// provider that keeps failing until the cooldown has passed.
type ProtectedNotifier struct {
	inner   Notifier
	timeout time.Duration
	log     *slog.Logger
	br      *breaker
	now     func() time.Time
}

func NewProtectedNotifier(inner Notifier, cfg ProtectedNotifierConfig) *ProtectedNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}

	return &ProtectedNotifier{
		inner:   inner,
		timeout: cfg.Timeout,
		log:     cfg.Log,
		br:      newBreaker(cfg.FailureThreshold, cfg.Cooldown),
		now:     time.Now,
	}
}

func (n *ProtectedNotifier) SendSecurityNotice(ctx context.Context, notice SecurityNotice) error {
	if !n.br.allow(n.now()) {
		return ErrCircuitOpen
	}

	sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	err := n.inner.SendSecurityNotice(sendCtx, notice)

	// the caller going away says nothing about the provider
	if err != nil && ctx.Err() != nil {
		n.br.release()
		return err
	}

	from, to := n.br.record(err == nil, n.now())
	if from != to && n.log != nil {
		n.log.WarnContext(ctx, "notifier circuit changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
			slog.Any("error", err),
		)
	}
	return err
}
