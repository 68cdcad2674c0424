package queue

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// Outbox 将事件追加到 Redis Stream，由 Relay 异步转发 Kafka。
type Outbox struct {
	rdb    *rd.Client
	stream string
	maxLen int64
}

func NewOutbox(rdb *rd.Client, stream string) *Outbox {
	return &Outbox{rdb: rdb, stream: stream, maxLen: 100000}
}

// Append XADD 一条事件；MAXLEN 近似裁剪，防止 relay 长时间不可用时无限增长。
func (o *Outbox) Append(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	return o.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: o.stream,
		MaxLen: o.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":       ev.EventID,
			"event_type":     ev.EventType,
			"occurred_at":    ev.OccurredAt.UTC().Format(time.RFC3339Nano),
			"producer":       ev.Producer,
			"correlation_id": ev.CorrelationID,
			"payload":        string(ev.Payload),
		},
	}).Err()
}
