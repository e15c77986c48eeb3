package sync

import (
	"context"

	"github.com/MosinFAM/timeline/internal/storage"

	"go.uber.org/zap"
)

// Trigger runs a full sync for each push notification until notes is closed
// or ctx is done. Notifications arriving during a sync coalesce into it.
func (e *Engine) Trigger(ctx context.Context, notes <-chan storage.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notes:
			if !ok {
				return
			}
			e.log.Debug("push notification",
				zap.String("subscription", n.SubscriptionID),
				zap.String("record", n.RecordID))
			e.PerformFullSync()
		}
	}
}
