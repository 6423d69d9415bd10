package appointment

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRepository keeps each appointment in a hash keyed by id, with a sorted
// set per insured party (scored by creation time) and a set per schedule slot.
type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func appointmentKey(id uuid.UUID) string      { return "appointment:" + id.String() }
func insuredIndexKey(insuredID string) string { return "appointments:insured:" + insuredID }
func scheduleIndexKey(scheduleID int64) string {
	return "appointments:schedule:" + strconv.FormatInt(scheduleID, 10)
}

var insertScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "id", ARGV[1],
  "insured_id", ARGV[2],
  "schedule_id", ARGV[3],
  "country_iso", ARGV[4],
  "status", ARGV[5],
  "created_at", ARGV[6],
  "updated_at", ARGV[7])
redis.call("ZADD", KEYS[2], ARGV[8], ARGV[1])
redis.call("SADD", KEYS[3], ARGV[1])
return 1
`)

var updateStatusScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "status")
if not cur then
  return -1
end
if cur ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "status", ARGV[2], "updated_at", ARGV[3])
return 1
`)

func (r *RedisRepository) Insert(ctx context.Context, a *Appointment) error {
	keys := []string{
		appointmentKey(a.ID),
		insuredIndexKey(a.InsuredID),
		scheduleIndexKey(a.ScheduleID),
	}
	n, err := insertScript.Run(ctx, r.client, keys,
		a.ID.String(),
		a.InsuredID,
		strconv.FormatInt(a.ScheduleID, 10),
		string(a.CountryISO),
		string(a.Status),
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
		a.UpdatedAt.UTC().Format(time.RFC3339Nano),
		a.CreatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	if n == 0 {
		return ErrAppointmentExists
	}
	return nil
}

func (r *RedisRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	fields, err := r.client.HGetAll(ctx, appointmentKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrAppointmentNotFound
	}
	return parseAppointmentHash(fields)
}

func (r *RedisRepository) ListByInsured(ctx context.Context, insuredID string) ([]Appointment, error) {
	ids, err := r.client.ZRange(ctx, insuredIndexKey(insuredID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list insured index: %w", err)
	}
	return r.loadMany(ctx, ids)
}

func (r *RedisRepository) FindActiveBySchedule(ctx context.Context, scheduleID int64) ([]Appointment, error) {
	ids, err := r.client.SMembers(ctx, scheduleIndexKey(scheduleID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list schedule index: %w", err)
	}
	all, err := r.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	active := all[:0]
	for _, a := range all {
		if a.Status.Active() {
			active = append(active, a)
		}
	}
	return active, nil
}

func (r *RedisRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, at time.Time) (*Appointment, error) {
	n, err := updateStatusScript.Run(ctx, r.client, []string{appointmentKey(id)},
		string(from), string(to), at.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	switch n {
	case -1:
		return nil, ErrAppointmentNotFound
	case 0:
		return nil, ErrStaleStatus
	}
	return r.GetByID(ctx, id)
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) loadMany(ctx context.Context, ids []string) ([]Appointment, error) {
	if len(ids) == 0 {
		return []Appointment{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, raw := range ids {
		cmds[i] = pipe.HGetAll(ctx, "appointment:"+raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	out := make([]Appointment, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		a, err := parseAppointmentHash(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

func parseAppointmentHash(f map[string]string) (*Appointment, error) {
	id, err := uuid.Parse(f["id"])
	if err != nil {
		return nil, fmt.Errorf("decode appointment id: %w", err)
	}
	scheduleID, err := strconv.ParseInt(f["schedule_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode schedule id: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, f["created_at"])
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, f["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}

	return &Appointment{
		ID:         id,
		InsuredID:  f["insured_id"],
		ScheduleID: scheduleID,
		CountryISO: Country(f["country_iso"]),
		Status:     AppointmentStatus(f["status"]),
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}
