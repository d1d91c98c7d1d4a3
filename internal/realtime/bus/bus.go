package bus

import (
	"context"

	"github.com/yungbote/studysync/internal/realtime"
)

// Bus publishes frames onto per-channel topics and opens subscriber streams on them.
type Bus interface {
	realtime.Transport
	Publish(ctx context.Context, msg realtime.Message) error
	Close() error
}
