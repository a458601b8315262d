// Package ratelimit provides a sliding-window rate limiter shared across runs.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// LimitType names a class of throttled resource.
type LimitType string

const (
	WorkflowExecution LimitType = "workflow_execution"
	APICall           LimitType = "api_call"
	ChatMessage       LimitType = "chat_message"
	DBQuery           LimitType = "db_query"
	ChannelCheck      LimitType = "channel_check"
)

const keyPrefix = "ratelimit:"

var (
	// ErrUnknownLimitType is returned when no rule is configured for a limit type.
	ErrUnknownLimitType = errors.New("unknown rate limit type")

	// ErrLimited is returned by callers that turn a rejected check into an error.
	ErrLimited = errors.New("rate limit exceeded")
)

// Rule is the ceiling of one limit type: at most Limit entries within Window.
type Rule struct {
	Limit  int           `json:"limit"  yaml:"limit"  validate:"required,gt=0"`
	Window time.Duration `json:"window" yaml:"window" validate:"required,gt=0"`
}

// DefaultRules returns the rules used when none are configured.
func DefaultRules() map[LimitType]Rule {
	return map[LimitType]Rule{
		WorkflowExecution: {Limit: 30, Window: time.Minute},
		APICall:           {Limit: 60, Window: time.Minute},
		ChatMessage:       {Limit: 20, Window: time.Minute},
		DBQuery:           {Limit: 300, Window: time.Minute},
		ChannelCheck:      {Limit: 10, Window: time.Minute},
	}
}

// Result is the outcome of one check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Key returns the namespaced identifier of a limit.
func Key(limitType LimitType, identifier string) string {
	return string(limitType) + ":" + identifier
}

// prune, insert, count and compare run as one script so concurrent checks
// against the same key cannot interleave. Rejected entries are removed again.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
redis.call('ZADD', key, now, member)
local count = redis.call('ZCARD', key)
redis.call('PEXPIRE', key, window)

local allowed = 1
if count > limit then
  redis.call('ZREM', key, member)
  allowed = 0
  count = limit
end

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end

return {allowed, limit - count, oldest}
`)

// Limiter checks sliding windows in Redis, falling back to a process-local window
// when Redis is not configured or not reachable.
type Limiter struct {
	client   redis.UniversalClient
	rules    map[LimitType]Rule
	local    *localWindow
	logger   *slog.Logger
	now      func() time.Time
	seq      atomic.Uint64
	degraded atomic.Bool
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter. A nil client selects the process-local window permanently.
func New(client redis.UniversalClient, rules map[LimitType]Rule, logger *slog.Logger, opts ...Option) *Limiter {
	if rules == nil {
		rules = DefaultRules()
	}

	l := &Limiter{
		client: client,
		rules:  rules,
		local:  newLocalWindow(),
		logger: logger.With("module", "ratelimit"),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	if client == nil {
		l.degraded.Store(true)
		l.logger.Warn("No shared store configured, rate limiting in degraded process-local mode")
	}

	return l
}

// Degraded reports whether the last check used the process-local window.
func (l *Limiter) Degraded() bool {
	return l.degraded.Load()
}

// Check records one request for identifier and reports whether it is within the limit.
func (l *Limiter) Check(ctx context.Context, limitType LimitType, identifier string) (Result, error) {
	rule, ok := l.rules[limitType]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownLimitType, limitType)
	}

	key := keyPrefix + Key(limitType, identifier)
	now := l.now()

	if l.client != nil {
		result, err := l.checkRedis(ctx, key, rule, now)
		if err == nil {
			if l.degraded.CompareAndSwap(true, false) {
				l.logger.InfoContext(ctx, "Shared store reachable again, rate limiting is cluster-consistent")
			}

			return result, nil
		}

		if l.degraded.CompareAndSwap(false, true) {
			l.logger.WarnContext(ctx, "Shared store unavailable, rate limiting in degraded process-local mode", "error", err)
		}
	}

	return l.local.check(key, rule, now), nil
}

// Allow is Check reduced to a boolean; errors allow the request.
func (l *Limiter) Allow(ctx context.Context, limitType LimitType, identifier string) bool {
	result, err := l.Check(ctx, limitType, identifier)
	if err != nil {
		l.logger.WarnContext(ctx, "Rate limit check failed, allowing request", "limit_type", limitType, "error", err)

		return true
	}

	return result.Allowed
}

func (l *Limiter) checkRedis(ctx context.Context, key string, rule Rule, now time.Time) (Result, error) {
	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%d", now.UnixNano(), l.seq.Add(1))

	values, err := slidingWindow.Run(ctx, l.client, []string{key}, nowMs, rule.Window.Milliseconds(), rule.Limit, member).Int64Slice()
	if err != nil {
		return Result{}, err
	}

	if len(values) != 3 {
		return Result{}, fmt.Errorf("unexpected sliding window reply: %v", values)
	}

	oldest := time.UnixMilli(values[2])

	return newResult(values[0] == 1, int(values[1]), oldest, rule, now), nil
}

func newResult(allowed bool, remaining int, oldest time.Time, rule Rule, now time.Time) Result {
	resetAt := oldest.Add(rule.Window)
	if resetAt.Before(now) {
		resetAt = now
	}

	result := Result{
		Allowed:   allowed,
		Remaining: max(remaining, 0),
		ResetAt:   resetAt,
	}

	if !allowed {
		result.RetryAfter = max(resetAt.Sub(now), time.Millisecond)
	}

	return result
}
