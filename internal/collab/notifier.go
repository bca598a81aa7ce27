package collab

import (
	"context"

	"github.com/fyrsmithlabs/taskd/internal/httpretry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ChatNotifier posts best-effort chat notifications to a webhook. Failures
// are logged and swallowed; a notification must never affect task status.
// Posts are rate-limited so a retry storm cannot flood the channel.
type ChatNotifier struct {
	webhookURL string
	client     *httpretry.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewChatNotifier creates a notifier. An empty webhookURL disables posting.
func NewChatNotifier(webhookURL string, perSecond float64, burst int, client *httpretry.Client, logger *zap.Logger) *ChatNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatNotifier{
		webhookURL: webhookURL,
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:     logger,
	}
}

type chatMessage struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// Post sends a message to the channel. Over-budget posts are dropped.
func (n *ChatNotifier) Post(ctx context.Context, channel, text string) {
	if n.webhookURL == "" {
		return
	}
	if !n.limiter.Allow() {
		n.logger.Warn("notification dropped by rate limit",
			zap.String("channel", channel))
		return
	}
	if err := n.client.PostJSON(ctx, n.webhookURL, chatMessage{Channel: channel, Text: text}, nil); err != nil {
		n.logger.Warn("notification failed",
			zap.String("channel", channel),
			zap.Error(err))
	}
}
