package regional

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS regional_appointments (
	id               UUID PRIMARY KEY,
	insured_id       CHAR(5)     NOT NULL,
	schedule_id      BIGINT      NOT NULL,
	center_id        INTEGER     NOT NULL,
	specialty_id     INTEGER     NOT NULL,
	medic_id         INTEGER     NOT NULL,
	appointment_date TIMESTAMPTZ NOT NULL,
	status           TEXT        NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS regional_appointments_schedule_idx ON regional_appointments (schedule_id);
CREATE INDEX IF NOT EXISTS regional_appointments_insured_idx ON regional_appointments (insured_id, created_at);
`

const selectColumns = `
	SELECT id, insured_id, schedule_id, center_id, specialty_id, medic_id,
	       appointment_date, status, created_at, updated_at
	FROM regional_appointments`

const uniqueViolation = "23505"

// PgRepository is one country's regional store.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure regional schema: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.InsuredID,
		&rec.ScheduleID,
		&rec.CenterID,
		&rec.SpecialtyID,
		&rec.MedicID,
		&rec.AppointmentDate,
		&rec.Status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *PgRepository) Insert(ctx context.Context, rec *Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO regional_appointments
			(id, insured_id, schedule_id, center_id, specialty_id, medic_id,
			 appointment_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.InsuredID, rec.ScheduleID, rec.CenterID, rec.SpecialtyID, rec.MedicID,
		rec.AppointmentDate, rec.Status, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrRecordExists
		}
		return fmt.Errorf("insert regional record: %w", err)
	}
	return nil
}

func (r *PgRepository) ListBySchedule(ctx context.Context, scheduleID int64) ([]Record, error) {
	return r.list(ctx, selectColumns+` WHERE schedule_id = $1 ORDER BY created_at`, scheduleID)
}

func (r *PgRepository) ListByInsured(ctx context.Context, insuredID string) ([]Record, error) {
	return r.list(ctx, selectColumns+` WHERE insured_id = $1 ORDER BY created_at`, insuredID)
}

func (r *PgRepository) list(ctx context.Context, query string, arg any) ([]Record, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query regional records: %w", err)
	}
	defer rows.Close()

	result := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan regional record: %w", err)
		}
		result = append(result, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
