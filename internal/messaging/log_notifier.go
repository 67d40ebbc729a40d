package messaging

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// LogNotifier records messages instead of sending them. Used when no provider key is set.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	n.log.InfoContext(ctx, "message.logged",
		"message_id", id,
		"template", msg.Template,
		"user_id", msg.UserID,
		"to", msg.To,
		"subject", msg.Subject,
	)
	return id, nil
}
