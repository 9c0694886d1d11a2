// Package notify decides whether a scored listing deserves a ping and
// delivers it. The decision table is pure; the Discord sink renders rich
// embeds behind an outbound throttle and a circuit breaker; the ops
// alerter carries the daemon's out-of-band notices.
package notify

import (
	"context"

	"github.com/vigiauto/vigiauto/internal/domain"
)

// ChannelDiscord is the channel name stamped on a listing after a
// successful webhook delivery.
const ChannelDiscord = "discord"

// Notifier delivers one listing notification.
type Notifier interface {
	Send(ctx context.Context, a *domain.Annonce, d Decision) error
}

// Nop drops every notification. Dry runs and webhook-less deployments use
// it so the pipeline keeps a single code path.
type Nop struct{}

func (Nop) Send(context.Context, *domain.Annonce, Decision) error { return nil }
