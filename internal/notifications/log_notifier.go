package notifications

import (
	"context"
	"log/slog"
)

// LogNotifier stands in for a mail provider: it writes the notice to the log.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log.With(slog.String("component", "notifier"))}
}

func (n *LogNotifier) SendSecurityNotice(ctx context.Context, in SecurityNotice) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.log.InfoContext(ctx, "notification.security_notice",
		slog.String("kind", string(in.Kind)),
		slog.String("user_id", in.UserID),
		slog.String("actor_id", in.ActorID),
		slog.String("detail", in.Detail),
	)
	return nil
}
