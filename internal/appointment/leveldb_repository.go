package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBRepository is the embedded primary store used by the standalone
// binary and tests. Records are JSON under "appt/<id>"; the insured and
// schedule indexes are key-only entries under "insured/" and "sched/".
type LevelDBRepository struct {
	db *leveldb.DB
	mu sync.Mutex // serializes conditioned writes
}

func OpenLevelDB(path string) (*LevelDBRepository, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBRepository{db: db}, nil
}

// OpenLevelDBInMemory opens a store backed by memory only.
func OpenLevelDBInMemory() (*LevelDBRepository, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open in-memory leveldb: %w", err)
	}
	return &LevelDBRepository{db: db}, nil
}

func (r *LevelDBRepository) Close() error {
	return r.db.Close()
}

func recordKey(id uuid.UUID) []byte { return []byte("appt/" + id.String()) }

func insuredPrefix(insuredID string) []byte { return []byte("insured/" + insuredID + "/") }

func schedulePrefix(scheduleID int64) []byte { return []byte(fmt.Sprintf("sched/%d/", scheduleID)) }

func (r *LevelDBRepository) Insert(ctx context.Context, a *Appointment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode appointment: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.db.Has(recordKey(a.ID), nil)
	if err != nil {
		return fmt.Errorf("check appointment: %w", err)
	}
	if exists {
		return ErrAppointmentExists
	}

	batch := new(leveldb.Batch)
	batch.Put(recordKey(a.ID), data)
	// zero padded nanos keep the index in creation order
	batch.Put(append(insuredPrefix(a.InsuredID), []byte(fmt.Sprintf("%020d/%s", a.CreatedAt.UnixNano(), a.ID))...), []byte(a.ID.String()))
	batch.Put(append(schedulePrefix(a.ScheduleID), []byte(a.ID.String())...), []byte(a.ID.String()))

	if err := r.db.Write(batch, nil); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *LevelDBRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.get(id)
}

func (r *LevelDBRepository) get(id uuid.UUID) (*Appointment, error) {
	data, err := r.db.Get(recordKey(id), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	var a Appointment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode appointment: %w", err)
	}
	return &a, nil
}

func (r *LevelDBRepository) ListByInsured(ctx context.Context, insuredID string) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.scanIndex(insuredPrefix(insuredID))
}

func (r *LevelDBRepository) FindActiveBySchedule(ctx context.Context, scheduleID int64) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := r.scanIndex(schedulePrefix(scheduleID))
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

func (r *LevelDBRepository) scanIndex(prefix []byte) ([]Appointment, error) {
	iter := r.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	out := []Appointment{}
	for iter.Next() {
		id, err := uuid.ParseBytes(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("decode index entry: %w", err)
		}
		a, err := r.get(id)
		if errors.Is(err, ErrAppointmentNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan index: %w", err)
	}
	return out, nil
}

func (r *LevelDBRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, at time.Time) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(id)
	if err != nil {
		return nil, err
	}
	if a.Status != from {
		return nil, ErrStaleStatus
	}

	a.Status = to
	a.UpdatedAt = at
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode appointment: %w", err)
	}
	if err := r.db.Put(recordKey(id), data, nil); err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return a, nil
}

func (r *LevelDBRepository) Ping(ctx context.Context) error {
	snap, err := r.db.GetSnapshot()
	if err != nil {
		return err
	}
	snap.Release()
	return nil
}
