// internal/jobstore/redis.go
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/solatis/tripwire/internal/types"
)

/*
 * Redis job store.
 *
 * Keys (prefix defaults to "tripwire:"):
 *   {prefix}job:{id}       hash with the jobs table columns; lock fields are
 *                          empty strings when unclaimed
 *   {prefix}rule:{rule_id} string holding the rule's job id
 *   {prefix}due            zset of job ids scored by the unix ms at which the
 *                          job becomes claimable: max(next_run_at, lock_expires_at)
 *
 * Every mutation is one Lua script so the hash, the rule index and the zset
 * never disagree. Scripts derive job keys from the prefix, which limits the
 * store to a single Redis node (no cluster slot routing).
 */

const defaultRedisPrefix = "tripwire:"

var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2],
  'id', ARGV[1], 'rule_id', ARGV[2], 'next_run_at', ARGV[3], 'payload', ARGV[4],
  'lock_owner', '', 'lock_expires_at', '', 'revision', '0', 'last_run_at', '',
  'created_at', ARGV[5], 'updated_at', ARGV[5])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

var claimScript = redis.NewScript(`
local now = tonumber(ARGV[2])
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2], 'LIMIT', 0, tonumber(ARGV[5]))
for _, id in ipairs(ids) do
  local key = ARGV[1] .. 'job:' .. id
  local f = redis.call('HMGET', key, 'next_run_at', 'lock_expires_at')
  if not f[1] then
    redis.call('ZREM', KEYS[1], id)
  else
    local nxt = tonumber(f[1])
    local exp = tonumber(f[2])
    if nxt <= now and (exp == nil or exp <= now) then
      redis.call('HSET', key, 'lock_owner', ARGV[3], 'lock_expires_at', ARGV[4], 'updated_at', ARGV[2])
      redis.call('ZADD', KEYS[1], ARGV[4], id)
      return id
    end
    local score = nxt
    if exp ~= nil and exp > score then score = exp end
    redis.call('ZADD', KEYS[1], score, id)
  end
end
return false
`)

var renewScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'lock_owner') ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'lock_expires_at', ARGV[2], 'updated_at', ARGV[3])
local nxt = tonumber(redis.call('HGET', KEYS[1], 'next_run_at'))
local score = tonumber(ARGV[2])
if nxt > score then score = nxt end
redis.call('ZADD', KEYS[2], score, ARGV[4])
return 1
`)

var rescheduleScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local f = redis.call('HMGET', KEYS[1], 'lock_owner', 'revision', 'next_run_at')
if f[1] ~= ARGV[1] then return 0 end
local nxt = f[3]
if f[2] == ARGV[2] or f[3] == ARGV[3] then nxt = ARGV[4] end
redis.call('HSET', KEYS[1], 'next_run_at', nxt, 'lock_owner', '', 'lock_expires_at', '',
  'last_run_at', ARGV[5], 'updated_at', ARGV[6])
redis.call('ZADD', KEYS[2], nxt, ARGV[7])
return 1
`)

// An empty owner deletes unconditionally.
var deleteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local f = redis.call('HMGET', KEYS[1], 'lock_owner', 'rule_id')
if ARGV[3] ~= '' and f[1] ~= ARGV[3] then return 0 end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
local rk = ARGV[2] .. 'rule:' .. f[2]
if redis.call('GET', rk) == ARGV[1] then redis.call('DEL', rk) end
return 1
`)

// An empty next run keeps next_run_at.
var updateSnapshotScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'payload', ARGV[1], 'updated_at', ARGV[3])
redis.call('HINCRBY', KEYS[1], 'revision', 1)
if ARGV[2] ~= '' then
  redis.call('HSET', KEYS[1], 'next_run_at', ARGV[2])
  local score = tonumber(ARGV[2])
  local exp = tonumber(redis.call('HGET', KEYS[1], 'lock_expires_at'))
  if exp ~= nil and exp > score then score = exp end
  redis.call('ZADD', KEYS[2], score, ARGV[4])
end
return 1
`)

// RedisStore implements Store on a single Redis node.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	logger zerolog.Logger
	now    func() time.Time
}

// OpenRedis connects to url ("redis://[:password@]host:port[/db]") and
// verifies the connection.
func OpenRedis(ctx context.Context, url, prefix string, logger zerolog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", types.ErrStoreUnavailable, err)
	}
	return NewRedis(rdb, prefix, logger), nil
}

// NewRedis wraps an existing client. The store takes ownership of rdb.
func NewRedis(rdb *redis.Client, prefix string, logger zerolog.Logger) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
		logger: logger.With().Str("component", "jobstore.redis").Logger(),
		now:    time.Now,
	}
}

func (s *RedisStore) jobKey(id types.JobID) string   { return s.prefix + "job:" + string(id) }
func (s *RedisStore) ruleKey(id types.RuleID) string { return s.prefix + "rule:" + string(id) }
func (s *RedisStore) dueKey() string                 { return s.prefix + "due" }

func ms(t time.Time) string { return strconv.FormatInt(toMillis(t), 10) }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", types.ErrStoreUnavailable, op, err)
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, snap types.RuleSnapshot, nextRunAt time.Time) (types.JobID, error) {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return "", err
	}
	id := types.NewJobID()
	keys := []string{s.ruleKey(snap.RuleID), s.jobKey(id), s.dueKey()}
	n, err := createScript.Run(ctx, s.rdb, keys,
		string(id), string(snap.RuleID), ms(nextRunAt), string(payload), ms(s.now())).Int()
	if err != nil {
		return "", unavailable("create job", err)
	}
	if n == 0 {
		return "", fmt.Errorf("%w: %s", types.ErrJobExists, snap.RuleID)
	}
	return id, nil
}

// ClaimDue implements Store.
func (s *RedisStore) ClaimDue(ctx context.Context, now time.Time, owner string, lease time.Duration) (*types.Job, error) {
	id, err := claimScript.Run(ctx, s.rdb, []string{s.dueKey()},
		s.prefix, ms(now), owner, ms(now.Add(lease)), claimBatch).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("claim job", err)
	}
	return s.Get(ctx, types.JobID(id))
}

// RenewLease implements Store.
func (s *RedisStore) RenewLease(ctx context.Context, id types.JobID, owner string, until time.Time) error {
	if owner == "" {
		return fmt.Errorf("%w: %s", types.ErrLeaseLost, id)
	}
	n, err := renewScript.Run(ctx, s.rdb, []string{s.jobKey(id), s.dueKey()},
		owner, ms(until), ms(s.now()), string(id)).Int()
	if err != nil {
		return unavailable("renew lease", err)
	}
	return ownedResult(n, id)
}

// Reschedule implements Store.
func (s *RedisStore) Reschedule(ctx context.Context, id types.JobID, out Outcome) error {
	if out.Owner == "" {
		return fmt.Errorf("%w: %s", types.ErrLeaseLost, id)
	}
	n, err := rescheduleScript.Run(ctx, s.rdb, []string{s.jobKey(id), s.dueKey()},
		out.Owner, strconv.FormatInt(out.Revision, 10), ms(out.DueAt), ms(out.NextRunAt),
		ms(out.RanAt), ms(s.now()), string(id)).Int()
	if err != nil {
		return unavailable("reschedule job", err)
	}
	return ownedResult(n, id)
}

// Complete implements Store.
func (s *RedisStore) Complete(ctx context.Context, id types.JobID, owner string) error {
	if owner == "" {
		return fmt.Errorf("%w: %s", types.ErrLeaseLost, id)
	}
	return s.remove(ctx, id, owner)
}

// Cancel implements Store.
func (s *RedisStore) Cancel(ctx context.Context, ruleID types.RuleID) error {
	id, err := s.rdb.Get(ctx, s.ruleKey(ruleID)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", types.ErrJobNotFound, ruleID)
	}
	if err != nil {
		return unavailable("cancel job", err)
	}
	return s.remove(ctx, types.JobID(id), "")
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id types.JobID) error {
	return s.remove(ctx, id, "")
}

func (s *RedisStore) remove(ctx context.Context, id types.JobID, owner string) error {
	n, err := deleteScript.Run(ctx, s.rdb, []string{s.jobKey(id), s.dueKey()},
		string(id), s.prefix, owner).Int()
	if err != nil {
		return unavailable("delete job", err)
	}
	return ownedResult(n, id)
}

// UpdateSnapshot implements Store.
func (s *RedisStore) UpdateSnapshot(ctx context.Context, id types.JobID, snap types.RuleSnapshot, nextRunAt *time.Time) error {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	next := ""
	if nextRunAt != nil {
		next = ms(*nextRunAt)
	}
	n, err := updateSnapshotScript.Run(ctx, s.rdb, []string{s.jobKey(id), s.dueKey()},
		string(payload), next, ms(s.now()), string(id)).Int()
	if err != nil {
		return unavailable("update job snapshot", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id types.JobID) (*types.Job, error) {
	fields, err := s.rdb.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, unavailable("get job", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	return parseJobHash(fields)
}

// GetByRule implements Store.
func (s *RedisStore) GetByRule(ctx context.Context, ruleID types.RuleID) (*types.Job, error) {
	id, err := s.rdb.Get(ctx, s.ruleKey(ruleID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", types.ErrJobNotFound, ruleID)
	}
	if err != nil {
		return nil, unavailable("get job by rule", err)
	}
	return s.Get(ctx, types.JobID(id))
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// ownedResult maps a script status (-1 missing, 0 not owner, 1 ok).
func ownedResult(n int, id types.JobID) error {
	switch n {
	case -1:
		return fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	case 0:
		return fmt.Errorf("%w: %s", types.ErrLeaseLost, id)
	default:
		return nil
	}
}

func parseJobHash(f map[string]string) (*types.Job, error) {
	snap, err := decodeSnapshot([]byte(f["payload"]))
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", f["id"], err)
	}
	job := &types.Job{
		ID:        types.JobID(f["id"]),
		RuleID:    types.RuleID(f["rule_id"]),
		Payload:   snap,
		LockOwner: f["lock_owner"],
	}
	var perr error
	num := func(name string) int64 {
		n, err := strconv.ParseInt(f[name], 10, 64)
		if err != nil && perr == nil {
			perr = fmt.Errorf("job %s: field %s: %w", f["id"], name, err)
		}
		return n
	}
	opt := func(name string) *time.Time {
		if f[name] == "" {
			return nil
		}
		n := num(name)
		return optMillis(&n)
	}
	job.NextRunAt = fromMillis(num("next_run_at"))
	job.Revision = num("revision")
	job.CreatedAt = fromMillis(num("created_at"))
	job.UpdatedAt = fromMillis(num("updated_at"))
	job.LockExpiresAt = opt("lock_expires_at")
	job.LastRunAt = opt("last_run_at")
	if perr != nil {
		return nil, perr
	}
	return job, nil
}
