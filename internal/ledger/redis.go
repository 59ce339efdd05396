package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"medialib/internal/media"
)

var tracer = otel.Tracer("medialib/ledger")

// adjustScript adds ARGV[1] to the counter and clamps it at zero in one
// server-side step. It returns the delta actually applied.
var adjustScript = redis.NewScript(`
local next = redis.call('INCRBY', KEYS[1], ARGV[1])
if next < 0 then
	redis.call('SET', KEYS[1], 0)
	return tonumber(ARGV[1]) - next
end
return tonumber(ARGV[1])
`)

// RedisLedger keeps usage counters in Redis under "{prefix}usage:{tenant}:{owner}".
type RedisLedger struct {
	client *redis.Client
	prefix string
}

// NewRedisLedger connects to Redis and checks the connection.
func NewRedisLedger(addr, password string, db int, prefix string) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisLedger{client: client, prefix: prefix}, nil
}

func (l *RedisLedger) key(tenantID, ownerID int64) string {
	return fmt.Sprintf("%susage:%d:%d", l.prefix, tenantID, ownerID)
}

func (l *RedisLedger) adjust(ctx context.Context, name string, tenantID, ownerID, delta int64) (int64, error) {
	ctx, span := tracer.Start(ctx, "redis."+name,
		trace.WithAttributes(
			attribute.Int64("tenant_id", tenantID),
			attribute.Int64("owner_id", ownerID),
			attribute.Int64("delta_kb", delta),
		),
	)
	defer span.End()

	applied, err := adjustScript.Run(ctx, l.client, []string{l.key(tenantID, ownerID)}, delta).Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%s %d KB for owner %d: %w", name, delta, ownerID, err)
	}
	span.SetAttributes(attribute.Int64("applied_kb", applied))
	return applied, nil
}

func (l *RedisLedger) Charge(ctx context.Context, tenantID, ownerID, bytes int64) (int64, error) {
	kb := media.KilobytesFor(bytes)
	if kb == 0 {
		return 0, nil
	}
	return l.adjust(ctx, "charge", tenantID, ownerID, kb)
}

func (l *RedisLedger) Release(ctx context.Context, tenantID, ownerID, bytes int64) (int64, error) {
	kb := media.KilobytesFor(bytes)
	if kb == 0 {
		return 0, nil
	}
	return l.adjust(ctx, "release", tenantID, ownerID, -kb)
}

func (l *RedisLedger) Usage(ctx context.Context, tenantID, ownerID int64) (int64, error) {
	kb, err := l.client.Get(ctx, l.key(tenantID, ownerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading usage of owner %d: %w", ownerID, err)
	}
	return kb, nil
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}

var _ Ledger = (*RedisLedger)(nil)
