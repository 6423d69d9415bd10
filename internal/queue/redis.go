package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue stores a queue in five keys: a ready list, an in-flight sorted
// set scored by visibility deadline, and hashes for bodies, receive counts and
// send times. The dead-letter queue uses the same layout under "<name>-dlq".
// Every state change runs as one Lua script, so consumers in separate
// processes never see a half-moved message.
type RedisQueue struct {
	client *redis.Client
	name   string
	policy Policy
	now    func() time.Time
}

func NewRedisQueue(client *redis.Client, name string, policy Policy) *RedisQueue {
	return &RedisQueue{client: client, name: name, policy: policy, now: time.Now}
}

func (q *RedisQueue) Name() string { return q.name }

func queueKeys(name string) []string {
	p := "queue:" + name + ":"
	return []string{p + "ready", p + "inflight", p + "bodies", p + "receives", p + "sent"}
}

// keys returns the five keys of the queue followed by the four write keys of
// its DLQ, matching KEYS[1..9] in the scripts.
func (q *RedisQueue) keys() []string {
	dlq := queueKeys(DLQName(q.name))
	return append(queueKeys(q.name), dlq[0], dlq[2], dlq[3], dlq[4])
}

const luaHelpers = `
local function forget(id)
  redis.call("HDEL", KEYS[3], id)
  redis.call("HDEL", KEYS[4], id)
  redis.call("HDEL", KEYS[5], id)
end
local function dead_letter(id)
  local body = redis.call("HGET", KEYS[3], id)
  if body then
    redis.call("HSET", KEYS[7], id, body)
    redis.call("HSET", KEYS[8], id, 0)
    redis.call("HSET", KEYS[9], id, redis.call("HGET", KEYS[5], id) or ARGV[1])
    redis.call("RPUSH", KEYS[6], id)
  end
  forget(id)
end
local function release(id, max_receives)
  local n = tonumber(redis.call("HGET", KEYS[4], id) or "0")
  if n >= max_receives then
    dead_letter(id)
    return 2
  end
  redis.call("RPUSH", KEYS[1], id)
  return 1
end
local function reclaim(now, max_receives)
  local expired = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", now)
  local dead = 0
  for _, id in ipairs(expired) do
    redis.call("ZREM", KEYS[2], id)
    if release(id, max_receives) == 2 then
      dead = dead + 1
    end
  end
  return #expired, dead
end
local function holds(id, receives)
  local n = redis.call("HGET", KEYS[4], id)
  if not n or n ~= receives then
    return false
  end
  return redis.call("ZSCORE", KEYS[2], id) ~= false
end
`

// ARGV: now, visibility ms, max receives, retention ms, batch
// Returns the number of messages dead-lettered by the inline reclaim, then
// id, body, receives, sent for every delivered message.
var receiveScript = redis.NewScript(luaHelpers + `
local now = tonumber(ARGV[1])
local vis = tonumber(ARGV[2])
local max_receives = tonumber(ARGV[3])
local retention = tonumber(ARGV[4])
local batch = tonumber(ARGV[5])

local _, dead = reclaim(now, max_receives)

local out = {dead}
local count = 0
while count < batch do
  local id = redis.call("LPOP", KEYS[1])
  if not id then
    break
  end
  local body = redis.call("HGET", KEYS[3], id)
  local sent = tonumber(redis.call("HGET", KEYS[5], id) or "0")
  if body and (retention <= 0 or sent + retention > now) then
    local n = redis.call("HINCRBY", KEYS[4], id, 1)
    redis.call("ZADD", KEYS[2], now + vis, id)
    table.insert(out, id)
    table.insert(out, body)
    table.insert(out, n)
    table.insert(out, sent)
    count = count + 1
  else
    forget(id)
  end
end
return out
`)

// ARGV: now, id, receives
var ackScript = redis.NewScript(luaHelpers + `
if not holds(ARGV[2], ARGV[3]) then
  return 0
end
redis.call("ZREM", KEYS[2], ARGV[2])
forget(ARGV[2])
return 1
`)

// ARGV: now, id, receives, max receives
var nackScript = redis.NewScript(luaHelpers + `
if not holds(ARGV[2], ARGV[3]) then
  return 0
end
redis.call("ZREM", KEYS[2], ARGV[2])
return release(ARGV[2], tonumber(ARGV[4]))
`)

// ARGV: now, id, receives
var deadLetterScript = redis.NewScript(luaHelpers + `
if not holds(ARGV[2], ARGV[3]) then
  return 0
end
redis.call("ZREM", KEYS[2], ARGV[2])
dead_letter(ARGV[2])
return 1
`)

// ARGV: now, max receives, retention ms
// Returns {released or dead-lettered, dead-lettered}.
var reclaimScript = redis.NewScript(luaHelpers + `
local now = tonumber(ARGV[1])
local moved, dead = reclaim(now, tonumber(ARGV[2]))
local retention = tonumber(ARGV[3])
if retention > 0 then
  local ids = redis.call("LRANGE", KEYS[1], 0, -1)
  for _, id in ipairs(ids) do
    local sent = tonumber(redis.call("HGET", KEYS[5], id) or "0")
    if sent + retention <= now then
      redis.call("LREM", KEYS[1], 0, id)
      forget(id)
    end
  end
end
return {moved, dead}
`)

// KEYS: dlq ready, bodies, receives, sent, then source ready, bodies, receives, sent
// ARGV: now, max
var redriveScript = redis.NewScript(`
local moved = 0
local max = tonumber(ARGV[2])
while moved < max do
  local id = redis.call("LPOP", KEYS[1])
  if not id then
    break
  end
  local body = redis.call("HGET", KEYS[2], id)
  if body then
    redis.call("HSET", KEYS[6], id, body)
    redis.call("HSET", KEYS[7], id, 0)
    redis.call("HSET", KEYS[8], id, ARGV[1])
    redis.call("RPUSH", KEYS[5], id)
    moved = moved + 1
  end
  redis.call("HDEL", KEYS[2], id)
  redis.call("HDEL", KEYS[3], id)
  redis.call("HDEL", KEYS[4], id)
end
return moved
`)

func (q *RedisQueue) nowMillis() int64 { return q.now().UnixMilli() }

func (q *RedisQueue) Send(ctx context.Context, body []byte) (string, error) {
	id := uuid.NewString()
	k := queueKeys(q.name)

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, k[2], id, body)
	pipe.HSet(ctx, k[3], id, 0)
	pipe.HSet(ctx, k[4], id, q.nowMillis())
	pipe.RPush(ctx, k[0], id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("send to %s: %w", q.name, err)
	}
	return id, nil
}

func (q *RedisQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 || max > MaxBatch {
		max = MaxBatch
	}

	res, err := receiveScript.Run(ctx, q.client, q.keys(),
		q.nowMillis(),
		q.policy.VisibilityTimeout.Milliseconds(),
		q.policy.MaxReceives,
		q.policy.Retention.Milliseconds(),
		max,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", q.name, err)
	}

	if len(res) == 0 {
		return nil, nil
	}
	dead, _ := res[0].(int64)
	q.policy.deadLettered(q.name, int(dead))

	out := make([]Message, 0, len(res)/4)
	for i := 1; i+3 < len(res); i += 4 {
		id, _ := res[i].(string)
		body, _ := res[i+1].(string)
		receives, _ := res[i+2].(int64)
		sent, _ := res[i+3].(int64)

		out = append(out, Message{
			ID:            id,
			Body:          []byte(body),
			ReceiptHandle: receiptFor(id, int(receives)),
			ReceiveCount:  int(receives),
			SentAt:        time.UnixMilli(sent),
		})
	}
	return out, nil
}

func (q *RedisQueue) runReceipt(ctx context.Context, script *redis.Script, op, receipt string, extra ...any) (int, error) {
	id, n, err := parseReceipt(receipt)
	if err != nil {
		return 0, err
	}
	args := append([]any{q.nowMillis(), id, n}, extra...)
	res, err := script.Run(ctx, q.client, q.keys(), args...).Int()
	if err != nil {
		return 0, fmt.Errorf("%s on %s: %w", op, q.name, err)
	}
	if res == 0 {
		return 0, ErrReceiptInvalid
	}
	return res, nil
}

func (q *RedisQueue) Ack(ctx context.Context, receipt string) error {
	_, err := q.runReceipt(ctx, ackScript, "ack", receipt)
	return err
}

// releasedToDLQ is the nack script's result for a message that hit the receive
// limit and went to the DLQ.
const releasedToDLQ = 2

func (q *RedisQueue) Nack(ctx context.Context, receipt string) error {
	res, err := q.runReceipt(ctx, nackScript, "nack", receipt, q.policy.MaxReceives)
	if res == releasedToDLQ {
		q.policy.deadLettered(q.name, 1)
	}
	return err
}

func (q *RedisQueue) DeadLetter(ctx context.Context, receipt string) error {
	if _, err := q.runReceipt(ctx, deadLetterScript, "dead-letter", receipt); err != nil {
		return err
	}
	q.policy.deadLettered(q.name, 1)
	return nil
}

func (q *RedisQueue) Reclaim(ctx context.Context) (int, error) {
	res, err := reclaimScript.Run(ctx, q.client, q.keys(),
		q.nowMillis(), q.policy.MaxReceives, q.policy.Retention.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("reclaim %s: %w", q.name, err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("reclaim %s: unexpected reply %v", q.name, res)
	}
	q.policy.deadLettered(q.name, int(res[1]))
	return int(res[0]), nil
}

func (q *RedisQueue) Redrive(ctx context.Context, max int) (int, error) {
	dlq := queueKeys(DLQName(q.name))
	src := queueKeys(q.name)
	keys := []string{dlq[0], dlq[2], dlq[3], dlq[4], src[0], src[2], src[3], src[4]}

	n, err := redriveScript.Run(ctx, q.client, keys, q.nowMillis(), max).Int()
	if err != nil {
		return 0, fmt.Errorf("redrive %s: %w", q.name, err)
	}
	return n, nil
}

func (q *RedisQueue) Depth(ctx context.Context) (Depth, error) {
	k := queueKeys(q.name)
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, k[0])
	inflight := pipe.ZCard(ctx, k[1])
	if _, err := pipe.Exec(ctx); err != nil {
		return Depth{}, fmt.Errorf("depth of %s: %w", q.name, err)
	}
	return Depth{Ready: int(ready.Val()), InFlight: int(inflight.Val())}, nil
}

// DLQ returns a queue handle on the dead-letter queue for inspection.
func (q *RedisQueue) DLQ() *RedisQueue {
	return NewRedisQueue(q.client, DLQName(q.name), Policy{
		VisibilityTimeout: q.policy.VisibilityTimeout,
		MaxReceives:       1 << 30,
		Retention:         q.policy.Retention,
	})
}
