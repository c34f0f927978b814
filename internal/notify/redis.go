package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// streamMaxLen caps the stream, trimming is approximate.
const streamMaxLen = 10000

// Redis appends notifications to a stream for other services to consume.
type Redis struct {
	client *redis.Client
	stream string
}

func NewRedis(client *redis.Client, stream string) *Redis {
	return &Redis{client: client, stream: stream}
}

func (r *Redis) Send(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("failed to encode notification data: %w", err)
	}

	values := map[string]interface{}{
		"type":    "notification",
		"title":   n.Title,
		"message": n.Message,
		"job_id":  n.JobID,
		"time":    n.Time.UTC().Format(time.RFC3339),
		"data":    string(data),
	}

	_, err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("XADD failed: %w", err)
	}
	return nil
}
