package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "markethold:idem:"

// Idempotency stores the first response produced for a given Idempotency-Key
// and replays it for retries of the same fund-moving request. All methods are
// nil-receiver safe so the API can run without redis.
type Idempotency struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotency(client *redis.Client, ttl time.Duration) *Idempotency {
	return &Idempotency{client: client, ttl: ttl}
}

// Response is the stored outcome of a fund-moving request. StoredAt marks
// when the first attempt completed; replays keep it unchanged.
type Response struct {
	Status   int       `json:"status"`
	Result   []byte    `json:"result"`
	StoredAt time.Time `json:"stored_at"`
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	if i == nil || key == "" {
		return nil, nil
	}
	val, err := i.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	if i == nil || key == "" {
		return nil
	}
	resp.StoredAt = time.Now()
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return i.client.Set(ctx, keyPrefix+key, data, i.ttl).Err()
}
