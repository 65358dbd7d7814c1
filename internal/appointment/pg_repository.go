package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/telederm-scheduling/internal/schedule"
)

const (
	pgUniqueViolation  = "23505"
	activeSlotIndex    = "appointments_active_slot_uidx"
	defaultStaleLimit  = 100
	maxListAppointment = 100
)

// dbtx is the subset of pgxpool.Pool the repository uses, so pgxmock can
// stand in during tests.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db dbtx
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	if pool == nil {
		panic("appointment: pgx pool required")
	}
	return &PgRepository{db: pool}
}

func newPgRepositoryWithDB(db dbtx) *PgRepository {
	return &PgRepository{db: db}
}

var appointmentColumnNames = []string{
	"id", "provider_id", "patient_id", "appointment_date", "slot_time",
	"consultation_type", "status", "urgency", "symptoms", "amount", "currency",
	"payment_status", "payment_id", "charge_intent_id", "consultation_room_id",
	"notes", "prescription", "cancelled_by", "cancellation_reason",
	"late_cancellation", "version", "created_at", "updated_at",
}

var (
	appointmentColumns          = strings.Join(appointmentColumnNames, ", ")
	qualifiedAppointmentColumns = "a." + strings.Join(appointmentColumnNames, ", a.")
)

// Helpers

func appointmentDest(a *Appointment) []any {
	return []any{
		&a.ID, &a.ProviderID, &a.PatientID, &a.Date, &a.Time,
		&a.Type, &a.Status, &a.Urgency, &a.Symptoms, &a.Amount, &a.Currency,
		&a.PaymentStatus, &a.PaymentID, &a.ChargeIntentID, &a.ConsultationRoomID,
		&a.Notes, &a.Prescription, &a.CancelledBy, &a.CancellationReason,
		&a.LateCancellation, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	if err := row.Scan(appointmentDest(&a)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	var prov ProviderSummary
	var pat PatientSummary

	dest := append(appointmentDest(&d.Appointment),
		&prov.ID, &prov.Name, &prov.Specialty,
		&pat.ID, &pat.Name, &pat.Email,
	)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	d.Provider = &prov
	d.Patient = &pat
	return &d, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.db.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	var p Provider
	err := r.db.QueryRow(ctx, `
		SELECT id, name, email, specialty, consultation_fee, currency, timezone, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.Specialty, &p.ConsultationFee, &p.Currency, &p.Timezone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetWeeklySlots(ctx context.Context, providerID uuid.UUID, day schedule.Weekday) (schedule.SlotList, error) {
	rows, err := r.db.Query(ctx, `
		SELECT slot_label
		FROM provider_availability
		WHERE provider_id = $1 AND weekday = $2
		ORDER BY position
	`, providerID, int16(day))
	if err != nil {
		return nil, fmt.Errorf("query weekly slots: %w", err)
	}
	defer rows.Close()

	slots := schedule.SlotList{}
	for rows.Next() {
		var label schedule.SlotLabel
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		slots = append(slots, label)
	}
	return slots, rows.Err()
}

func (r *PgRepository) GetWeeklyTemplate(ctx context.Context, providerID uuid.UUID) (schedule.WeeklyTemplate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT weekday, slot_label
		FROM provider_availability
		WHERE provider_id = $1
		ORDER BY weekday, position
	`, providerID)
	if err != nil {
		return nil, fmt.Errorf("query weekly template: %w", err)
	}
	defer rows.Close()

	tmpl := schedule.WeeklyTemplate{}
	for rows.Next() {
		var day int16
		var label schedule.SlotLabel
		if err := rows.Scan(&day, &label); err != nil {
			return nil, err
		}
		wd := schedule.Weekday(day)
		tmpl[wd] = append(tmpl[wd], label)
	}
	return tmpl, rows.Err()
}

func (r *PgRepository) ReplaceWeeklySlots(ctx context.Context, providerID uuid.UUID, day schedule.Weekday, slots schedule.SlotList) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace weekly slots: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		DELETE FROM provider_availability
		WHERE provider_id = $1 AND weekday = $2
	`, providerID, int16(day)); err != nil {
		return fmt.Errorf("clear weekly slots: %w", err)
	}

	for i, label := range slots {
		if _, err := tx.Exec(ctx, `
			INSERT INTO provider_availability (provider_id, weekday, position, slot_label)
			VALUES ($1, $2, $3, $4)
		`, providerID, int16(day), int16(i), string(label)); err != nil {
			return fmt.Errorf("insert weekly slot %s: %w", label, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit weekly slots: %w", err)
	}
	return nil
}

func (r *PgRepository) ListHeldSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]schedule.SlotLabel, error) {
	rows, err := r.db.Query(ctx, `
		SELECT slot_time
		FROM appointments
		WHERE provider_id = $1
		  AND appointment_date = $2
		  AND status IN ('scheduled', 'in-progress')
	`, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("query held slots: %w", err)
	}
	defer rows.Close()

	var held []schedule.SlotLabel
	for rows.Next() {
		var label schedule.SlotLabel
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		held = append(held, label)
	}
	return held, rows.Err()
}

// CreateAppointment inserts a committed appointment. The partial unique index
// on (provider_id, appointment_date, slot_time) makes the insert fail with
// ErrSlotTaken when another scheduled or in-progress row holds the slot.
func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, 1, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.ProviderID, a.PatientID, a.Date, string(a.Time),
		string(a.Type), string(a.Status), string(a.Urgency), a.Symptoms, a.Amount, a.Currency,
		string(a.PaymentStatus), a.PaymentID, a.ChargeIntentID, a.ConsultationRoomID,
		a.Notes, a.Prescription, a.CancelledBy, a.CancellationReason, a.LateCancellation,
	)

	created, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err, activeSlotIndex) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

// UpdateAppointment writes the mutable fields of a when the stored version
// still equals a.Version, and bumps the version.
func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    payment_status = $4,
		    payment_id = $5,
		    charge_intent_id = $6,
		    notes = $7,
		    prescription = $8,
		    cancelled_by = $9,
		    cancellation_reason = $10,
		    late_cancellation = $11,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $2
		RETURNING `+appointmentColumns,
		a.ID, a.Version,
		string(a.Status), string(a.PaymentStatus), a.PaymentID, a.ChargeIntentID,
		a.Notes, a.Prescription, a.CancelledBy, a.CancellationReason, a.LateCancellation,
	)

	updated, err := scanAppointment(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		if isUniqueViolation(err, activeSlotIndex) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	var exists int
	if err := r.db.QueryRow(ctx, `SELECT 1 FROM appointments WHERE id = $1`, a.ID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("check appointment: %w", err)
	}
	return nil, ErrVersionConflict
}

var detailSelect = `
	SELECT ` + qualifiedAppointmentColumns + `,
	       pr.id, pr.name, pr.specialty,
	       pa.id, pa.name, pa.email
	FROM appointments a
	JOIN providers pr ON pr.id = a.provider_id
	JOIN patients pa ON pa.id = a.patient_id
`

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.db.QueryRow(ctx, detailSelect+`WHERE a.id = $1`, id)
	return scanDetail(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, actorID uuid.UUID, role Role, limit, offset int) ([]AppointmentDetail, error) {
	var filter string
	switch role {
	case RolePatient:
		filter = `WHERE a.patient_id = $1`
	case RoleDoctor:
		filter = `WHERE a.provider_id = $1`
	default:
		return nil, fmt.Errorf("list appointments: unknown role %q", role)
	}
	if limit <= 0 || limit > maxListAppointment {
		limit = maxListAppointment
	}

	rows, err := r.db.Query(ctx, detailSelect+filter+`
		ORDER BY a.appointment_date DESC, a.slot_time DESC, a.created_at DESC
		LIMIT $2 OFFSET $3
	`, actorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (r *PgRepository) FindStaleUnpaid(ctx context.Context, createdBefore time.Time, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = defaultStaleLimit
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND payment_status IN ('pending', 'failed')
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale unpaid: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
