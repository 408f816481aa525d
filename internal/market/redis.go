package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"trendline-core/pkg/exchanges/common"
)

// RedisGetter is the subset of the go-redis client the source uses.
type RedisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisConfig configures a quote relay connection.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	MaxAge    time.Duration
}

// NewRedisClient builds a go-redis client with relay timeouts.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// relayQuote is the JSON form a relay writes: {"price": 187.2, "ts": 1760000000000}.
type relayQuote struct {
	Price float64 `json:"price"`
	TS    int64   `json:"ts"` // unix milliseconds
}

// RedisSource reads last prices that a quote relay writes under
// <prefix><SYMBOL>. Values are either a bare number or relayQuote JSON;
// JSON quotes older than MaxAge are treated as unavailable.
type RedisSource struct {
	client RedisGetter
	prefix string
	maxAge time.Duration
	now    func() time.Time
}

// NewRedisSource creates a source over client.
func NewRedisSource(client RedisGetter, prefix string, maxAge time.Duration) *RedisSource {
	return &RedisSource{client: client, prefix: prefix, maxAge: maxAge, now: time.Now}
}

// LastPrice implements common.PriceSource.
func (s *RedisSource) LastPrice(ctx context.Context, symbol string) (float64, error) {
	key := s.prefix + strings.ToUpper(symbol)
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%s: %w", key, common.ErrPriceUnavailable)
	}
	if err != nil {
		return 0, &common.BrokerError{Op: "redis_get", Kind: common.KindUnavailable, Err: err}
	}

	raw = strings.TrimSpace(raw)
	if px, perr := strconv.ParseFloat(raw, 64); perr == nil {
		return px, nil
	}
	var q relayQuote
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return 0, fmt.Errorf("%s: decode quote %q: %w", key, raw, err)
	}
	if q.TS > 0 && s.maxAge > 0 {
		if age := s.now().Sub(time.UnixMilli(q.TS)); age > s.maxAge {
			return 0, fmt.Errorf("%s: quote is %s old: %w", key, age.Round(time.Second), common.ErrPriceUnavailable)
		}
	}
	return q.Price, nil
}
