package frontier

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nao1215/darc/internal/model"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is prepended to every key the RedisQueue writes.
const DefaultRedisPrefix = "darc:frontier:"

// RedisQueue is a Queue stored in Redis so several processes can share it.
//
// Each URL is a hash under prefix+"url:"+model.Key(url). Pending members live
// in a sorted set scored by an ever-increasing position counter, which keeps
// FIFO order. Retries wait in a second set scored by their ready time and are
// moved to the back of the pending set once due. In-flight members are scored
// by lease expiry. All state transitions run as Lua scripts, so they are
// atomic across processes. Keys are derived inside scripts, which limits the
// queue to a single Redis node.
type RedisQueue struct {
	client redis.UniversalClient
	prefix string
	opts   options
	owned  bool
}

var _ Queue = (*RedisQueue)(nil)

// RedisOption configures a RedisQueue beyond the common options.
type RedisOption func(*RedisQueue)

// WithKeyPrefix overrides DefaultRedisPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(q *RedisQueue) {
		q.prefix = prefix
	}
}

// NewRedisQueue wraps an existing client. The caller keeps ownership of client.
func NewRedisQueue(client redis.UniversalClient, ropts []RedisOption, opts ...Option) *RedisQueue {
	q := &RedisQueue{
		client: client,
		prefix: DefaultRedisPrefix,
		opts:   newOptions(opts),
	}
	for _, opt := range ropts {
		opt(q)
	}
	return q
}

// DialRedisQueue connects to addr and verifies the connection with PING.
// Close on the returned queue closes the connection.
func DialRedisQueue(ctx context.Context, addr string, ropts []RedisOption, opts ...Option) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	q := NewRedisQueue(client, ropts, opts...)
	q.owned = true
	return q, nil
}

func (q *RedisQueue) recordPrefix() string { return q.prefix + "url:" }
func (q *RedisQueue) recordKey(member string) string {
	return q.recordPrefix() + member
}
func (q *RedisQueue) readyKey() string    { return q.prefix + "ready" }
func (q *RedisQueue) delayedKey() string  { return q.prefix + "delayed" }
func (q *RedisQueue) inflightKey() string { return q.prefix + "inflight" }
func (q *RedisQueue) visitedKey() string  { return q.prefix + "visited" }
func (q *RedisQueue) deadKey() string     { return q.prefix + "dead" }
func (q *RedisQueue) hostsKey() string    { return q.prefix + "hosts" }
func (q *RedisQueue) seqKey() string      { return q.prefix + "seq" }
func (q *RedisQueue) posKey() string      { return q.prefix + "pos" }

var enqueueScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if st then
  if st ~= 'visited' or ARGV[4] ~= '1' then
    return 0
  end
  redis.call('SREM', KEYS[5], ARGV[2])
  redis.call('HSET', KEYS[1], 'status', 'pending', 'attempts', 0, 'owner', '', 'token', '', 'lease', 0, 'ready', ARGV[3], 'err', '')
else
  local seq = redis.call('INCR', KEYS[3])
  redis.call('HSET', KEYS[1], 'url', ARGV[1], 'seq', seq, 'status', 'pending', 'attempts', 0, 'owner', '', 'token', '', 'lease', 0, 'ready', ARGV[3], 'err', '')
end
redis.call('ZADD', KEYS[2], redis.call('INCR', KEYS[4]), ARGV[2])
return 1
`)

// Enqueue implements Queue.
func (q *RedisQueue) Enqueue(ctx context.Context, rawURL string) (bool, error) {
	url, err := model.NormalizeURL(rawURL)
	if err != nil {
		return false, err
	}
	member := model.Key(url)

	revive := "0"
	status, err := q.client.HGet(ctx, q.recordKey(member), "status").Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return false, fmt.Errorf("read status of %s: %w", url, err)
	case status == model.StatusVisited.String():
		stale, err := q.opts.staleVisit(ctx, url)
		if err != nil {
			return false, fmt.Errorf("check freshness of %s: %w", url, err)
		}
		if !stale {
			return false, nil
		}
		revive = "1"
	default:
		return false, nil
	}

	keys := []string{q.recordKey(member), q.readyKey(), q.seqKey(), q.posKey(), q.visitedKey()}
	n, err := enqueueScript.Run(ctx, q.client, keys, url, member, millis(q.opts.now()), revive).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", url, err)
	}
	return n == 1, nil
}

var dequeueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, 64)
for _, m in ipairs(due) do
  redis.call('ZREM', KEYS[2], m)
  redis.call('ZADD', KEYS[1], redis.call('INCR', KEYS[4]), m)
end
local head = redis.call('ZPOPMIN', KEYS[1])
if #head == 0 then
  return false
end
local m = head[1]
local rec = ARGV[5] .. m
redis.call('HSET', rec, 'status', 'in-flight', 'owner', ARGV[3], 'token', ARGV[4], 'lease', ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[2], m)
return redis.call('HGETALL', rec)
`)

// Dequeue implements Queue.
func (q *RedisQueue) Dequeue(ctx context.Context, workerID string) (*Claim, error) {
	now := q.opts.now()
	lease := now.Add(q.opts.policy.LeaseTimeout)
	token := rand.Text()

	keys := []string{q.readyKey(), q.delayedKey(), q.inflightKey(), q.posKey()}
	res, err := dequeueScript.Run(ctx, q.client, keys,
		millis(now), millis(lease), workerID, token, q.recordPrefix()).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	rec, err := parseRecord(pairs(res))
	if err != nil {
		return nil, err
	}
	return &Claim{
		Record:      *rec,
		WorkerID:    workerID,
		Token:       token,
		LeaseExpiry: rec.LeaseExpiry,
	}, nil
}

var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'in-flight' or redis.call('HGET', KEYS[1], 'token') ~= ARGV[2] then
  return -1
end
redis.call('ZREM', KEYS[2], ARGV[1])
local st = ARGV[3]
redis.call('HSET', KEYS[1], 'status', st, 'attempts', ARGV[4], 'owner', '', 'token', '', 'lease', 0, 'err', ARGV[6])
if st == 'visited' then
  redis.call('SADD', KEYS[4], ARGV[1])
elseif st == 'dead' then
  redis.call('SADD', KEYS[5], ARGV[1])
else
  redis.call('HSET', KEYS[1], 'ready', ARGV[5])
  redis.call('ZADD', KEYS[3], ARGV[5], ARGV[1])
end
return 1
`)

// Release implements Queue.
func (q *RedisQueue) Release(ctx context.Context, claim *Claim, v Verdict) (model.Status, error) {
	url := claim.URL()
	member := model.Key(url)
	now := q.opts.now()

	var (
		status   model.Status
		attempts = claim.Record.Attempts
		readyAt  time.Time
		reason   = v.Reason
	)
	switch v.Disposition {
	case Visited:
		status = model.StatusVisited
		attempts = 0
		reason = ""
	case Dead:
		status = model.StatusDead
	default:
		var dead bool
		attempts, dead, readyAt = q.opts.policy.failure(claim.Record.Attempts, now, v.MinDelay)
		status = model.StatusPending
		if dead {
			status = model.StatusDead
		}
	}

	keys := []string{q.recordKey(member), q.inflightKey(), q.delayedKey(), q.visitedKey(), q.deadKey()}
	n, err := releaseScript.Run(ctx, q.client, keys,
		member, claim.Token, status.String(), attempts, millis(readyAt), reason).Int()
	if err != nil {
		return 0, fmt.Errorf("release %s: %w", url, err)
	}
	if n != 1 {
		return 0, ErrLeaseLost
	}
	return status, nil
}

var reclaimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 256)
local now = tonumber(ARGV[1])
for _, m in ipairs(expired) do
  local rec = ARGV[2] .. m
  redis.call('ZREM', KEYS[1], m)
  local attempts = tonumber(redis.call('HGET', rec, 'attempts') or '0') + 1
  if attempts > tonumber(ARGV[3]) then
    redis.call('HSET', rec, 'status', 'dead', 'attempts', attempts, 'owner', '', 'token', '', 'lease', 0, 'err', 'lease expired')
    redis.call('SADD', KEYS[3], m)
  else
    local delay = tonumber(ARGV[4]) * (2 ^ (attempts - 1))
    if delay > tonumber(ARGV[5]) then
      delay = tonumber(ARGV[5])
    end
    local ready = string.format('%.0f', now + delay)
    redis.call('HSET', rec, 'status', 'pending', 'attempts', attempts, 'owner', '', 'token', '', 'lease', 0, 'ready', ready, 'err', 'lease expired')
    redis.call('ZADD', KEYS[2], ready, m)
  end
end
return #expired
`)

// ReclaimExpired implements Queue.
func (q *RedisQueue) ReclaimExpired(ctx context.Context) (int, error) {
	p := q.opts.policy
	keys := []string{q.inflightKey(), q.delayedKey(), q.deadKey()}
	n, err := reclaimScript.Run(ctx, q.client, keys,
		millis(q.opts.now()), q.recordPrefix(), p.MaxRetries,
		p.RetryBase.Milliseconds(), p.RetryMaxDelay.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	if n > 0 {
		q.opts.logger.Warn("reclaimed expired leases", "count", n)
	}
	return n, nil
}

var resetScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then
  return -1
end
if st ~= 'dead' then
  return 0
end
redis.call('SREM', KEYS[3], ARGV[1])
redis.call('HSET', KEYS[1], 'status', 'pending', 'attempts', 0, 'err', '', 'ready', ARGV[2])
redis.call('ZADD', KEYS[2], redis.call('INCR', KEYS[4]), ARGV[1])
return 1
`)

// Reset implements Queue.
func (q *RedisQueue) Reset(ctx context.Context, rawURL string) error {
	url, err := model.NormalizeURL(rawURL)
	if err != nil {
		return err
	}
	member := model.Key(url)
	keys := []string{q.recordKey(member), q.readyKey(), q.deadKey(), q.posKey()}
	n, err := resetScript.Run(ctx, q.client, keys, member, millis(q.opts.now())).Int()
	if err != nil {
		return fmt.Errorf("reset %s: %w", url, err)
	}
	switch n {
	case -1:
		return ErrNotFound
	case 0:
		return fmt.Errorf("%w: %s", ErrNotDead, url)
	default:
		return nil
	}
}

// MarkHost implements Queue.
func (q *RedisQueue) MarkHost(ctx context.Context, host string) (bool, error) {
	n, err := q.client.SAdd(ctx, q.hostsKey(), host).Result()
	if err != nil {
		return false, fmt.Errorf("mark host %s: %w", host, err)
	}
	return n == 1, nil
}

// Get implements Queue.
func (q *RedisQueue) Get(ctx context.Context, rawURL string) (*model.URLRecord, error) {
	url, err := model.NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	fields, err := q.client.HGetAll(ctx, q.recordKey(model.Key(url))).Result()
	if err != nil {
		return nil, fmt.Errorf("read record of %s: %w", url, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return parseRecord(fields)
}

// Stats implements Queue.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	now := millis(q.opts.now())

	pipe := q.client.Pipeline()
	ready := pipe.ZCard(ctx, q.readyKey())
	due := pipe.ZCount(ctx, q.delayedKey(), "-inf", now)
	delayed := pipe.ZCard(ctx, q.delayedKey())
	inflight := pipe.ZCard(ctx, q.inflightKey())
	visited := pipe.SCard(ctx, q.visitedKey())
	dead := pipe.SCard(ctx, q.deadKey())
	hosts := pipe.SCard(ctx, q.hostsKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("read frontier stats: %w", err)
	}

	return Stats{
		Pending:  int(ready.Val() + due.Val()),
		Delayed:  int(delayed.Val() - due.Val()),
		InFlight: int(inflight.Val()),
		Visited:  int(visited.Val()),
		Dead:     int(dead.Val()),
		Hosts:    int(hosts.Val()),
	}, nil
}

// Close closes the connection if the queue dialed it.
func (q *RedisQueue) Close() error {
	if q.owned {
		return q.client.Close()
	}
	return nil
}

func millis(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func fromMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// pairs turns a flat HGETALL reply into a map.
func pairs(flat []string) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		m[flat[i]] = flat[i+1]
	}
	return m
}

func parseRecord(fields map[string]string) (*model.URLRecord, error) {
	status, err := model.ParseStatus(fields["status"])
	if err != nil {
		return nil, err
	}
	seq, err := strconv.ParseUint(fields["seq"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse seq of %s: %w", fields["url"], err)
	}
	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return nil, fmt.Errorf("parse attempts of %s: %w", fields["url"], err)
	}
	return &model.URLRecord{
		URL:         fields["url"],
		Seq:         seq,
		Status:      status,
		Attempts:    attempts,
		Owner:       fields["owner"],
		LeaseExpiry: fromMillis(fields["lease"]),
		ReadyAt:     fromMillis(fields["ready"]),
		LastError:   fields["err"],
	}, nil
}
