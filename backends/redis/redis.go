// Package redis implements the shared-store backend on Redis. Token
// consumption runs as a server-side Lua script so all instances share the
// store's clock and observe a linearizable order of consumptions.
//
// The consume script declares the bucket base key as its only key and
// derives per-band keys by suffix. On Redis Cluster wrap the base key in
// a hash tag so all bands of a bucket land in one slot.
package redis

import (
	"context"
	_ "embed"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluxgate/fluxgate/backends"
)

//go:embed consume.lua
var consumeScript string

type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type Backend struct {
	client *redis.Client

	// sha holds the content-addressed handle of the consume script once
	// uploaded; empty until the first successful SCRIPT LOAD.
	sha atomic.Value // string
}

// GetClient exposes the underlying client, mainly for tests.
func (r *Backend) GetClient() *redis.Client {
	return r.client
}

// New connects to Redis and uploads the consume script. A failed upload is
// not fatal: calls fall back to inline EVAL until a re-upload succeeds.
func New(config Config) (*Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, NewConnectionFailedError(config.Addr, err)
	}

	b := &Backend{client: client}
	b.sha.Store("")
	b.uploadScript(context.Background())
	return b, nil
}

// uploadScript loads the consume script and caches its handle. SCRIPT LOAD
// is content-addressed, so concurrent uploads are idempotent and failure
// only means the next call evaluates inline.
func (r *Backend) uploadScript(ctx context.Context) {
	sha, err := r.client.ScriptLoad(ctx, consumeScript).Result()
	if err == nil {
		r.sha.Store(sha)
	}
}

func (r *Backend) TryConsume(ctx context.Context, baseKey string, bands []backends.BandQuota, permits int64) (backends.BucketState, error) {
	if err := validateConsume(baseKey, bands, permits); err != nil {
		return backends.BucketState{}, err
	}

	args := packConsumeArgs(bands, permits)

	var result any
	var err error
	if sha, _ := r.sha.Load().(string); sha != "" {
		result, err = r.client.EvalSha(ctx, sha, []string{baseKey}, args...).Result()
		if err != nil && redis.HasErrorPrefix(err, "NOSCRIPT") {
			// server lost the script (restart, SCRIPT FLUSH); evaluate
			// inline and re-upload off the hot path
			go r.uploadScript(context.WithoutCancel(ctx))
			result, err = r.client.Eval(ctx, consumeScript, []string{baseKey}, args...).Result()
		}
	} else {
		result, err = r.client.Eval(ctx, consumeScript, []string{baseKey}, args...).Result()
		go r.uploadScript(context.WithoutCancel(ctx))
	}
	if err != nil {
		return backends.BucketState{}, NewEvalFailedError(err)
	}

	return unpackConsumeReply(result)
}

func (r *Backend) Publish(ctx context.Context, channel, message string) error {
	if err := r.client.Publish(ctx, channel, message).Err(); err != nil {
		return NewPublishFailedError(channel, err)
	}
	return nil
}

func (r *Backend) Subscribe(ctx context.Context, channel string) (backends.Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channel)
	// force the SUBSCRIBE round trip so connection failures surface here
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, NewSubscribeFailedError(channel, err)
	}

	sub := &subscription{pubsub: pubsub, messages: make(chan string, 16)}
	go sub.pump()
	return sub, nil
}

func (r *Backend) SupportsPubSub() bool {
	return true
}

func (r *Backend) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return NewPingFailedError(err)
	}
	return nil
}

func (r *Backend) Close() error {
	if err := r.client.Close(); err != nil {
		return NewCloseFailedError(err)
	}
	return nil
}

type subscription struct {
	pubsub   *redis.PubSub
	messages chan string
}

func (s *subscription) pump() {
	defer close(s.messages)
	for msg := range s.pubsub.Channel() {
		s.messages <- msg.Payload
	}
}

func (s *subscription) Messages() <-chan string {
	return s.messages
}

func (s *subscription) Close() error {
	return s.pubsub.Close()
}

// packConsumeArgs flattens permits and band quotas into script arguments:
// permits, band count, then (label, capacity, window_us) per band.
func packConsumeArgs(bands []backends.BandQuota, permits int64) []any {
	args := make([]any, 0, 2+3*len(bands))
	args = append(args, permits, len(bands))
	for _, band := range bands {
		args = append(args, band.Label, band.Capacity, band.Window.Microseconds())
	}
	return args
}

// unpackConsumeReply parses the script reply {consumed, remaining,
// wait_us, reset_ms}.
func unpackConsumeReply(reply any) (backends.BucketState, error) {
	fields, ok := reply.([]any)
	if !ok || len(fields) != 4 {
		return backends.BucketState{}, NewBadReplyError(reply)
	}
	values := make([]int64, 4)
	for i, field := range fields {
		n, ok := field.(int64)
		if !ok {
			return backends.BucketState{}, NewBadReplyError(reply)
		}
		values[i] = n
	}
	return backends.BucketState{
		Consumed:    values[0] == 1,
		Remaining:   values[1],
		WaitNanos:   values[2] * int64(time.Microsecond),
		ResetMillis: values[3],
	}, nil
}

func validateConsume(baseKey string, bands []backends.BandQuota, permits int64) error {
	if baseKey == "" {
		return ErrEmptyKey
	}
	if len(bands) == 0 {
		return ErrNoBands
	}
	if permits < 1 {
		return NewInvalidPermitsError(permits)
	}
	return nil
}
