package visit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/houmon/houmon/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const recordCols = `id, facility_id, patient_id, nurse_id, visit_date, actual_start_time, actual_end_time,
	status, service_code_id, resolved_service_code_id, service_code_defaulted, base_points,
	emergency_visit_reason, multiple_visit_reason, is_multiple_staff, is_first_visit_of_plan,
	is_discharge_date_visit, is_terminal_care, calculated_points, applied_bonuses,
	created_at, updated_at, deleted_at`

func scanRecord(row pgx.Row) (*NursingRecord, error) {
	var (
		rec     NursingRecord
		bonuses []byte
	)
	err := row.Scan(&rec.ID, &rec.FacilityID, &rec.PatientID, &rec.NurseID, &rec.VisitDate,
		&rec.ActualStartTime, &rec.ActualEndTime,
		&rec.Status, &rec.ServiceCodeID, &rec.ResolvedServiceCodeID, &rec.ServiceCodeDefaulted, &rec.BasePoints,
		&rec.EmergencyVisitReason, &rec.MultipleVisitReason, &rec.IsMultipleStaff, &rec.IsFirstVisitOfPlan,
		&rec.IsDischargeDateVisit, &rec.IsTerminalCare, &rec.CalculatedPoints, &bonuses,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(bonuses) > 0 {
		if err := json.Unmarshal(bonuses, &rec.AppliedBonuses); err != nil {
			return nil, fmt.Errorf("decode applied_bonuses of %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]*NursingRecord, error) {
	defer rows.Close()
	var out []*NursingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, rec *NursingRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	bonuses, err := json.Marshal(nonNil(rec.AppliedBonuses))
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO nursing_record (id, facility_id, patient_id, nurse_id, visit_date,
			actual_start_time, actual_end_time, status, service_code_id,
			emergency_visit_reason, multiple_visit_reason, is_multiple_staff, is_first_visit_of_plan,
			is_discharge_date_visit, is_terminal_care, calculated_points, applied_bonuses)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING created_at, updated_at`,
		rec.ID, rec.FacilityID, rec.PatientID, rec.NurseID, rec.VisitDate,
		rec.ActualStartTime, rec.ActualEndTime, rec.Status, rec.ServiceCodeID,
		rec.EmergencyVisitReason, rec.MultipleVisitReason, rec.IsMultipleStaff, rec.IsFirstVisitOfPlan,
		rec.IsDischargeDateVisit, rec.IsTerminalCare, rec.CalculatedPoints, bonuses,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

func (r *repoPG) Update(ctx context.Context, rec *NursingRecord) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE nursing_record SET nurse_id=$2, visit_date=$3, actual_start_time=$4, actual_end_time=$5,
			status=$6, service_code_id=$7, emergency_visit_reason=$8, multiple_visit_reason=$9,
			is_multiple_staff=$10, is_first_visit_of_plan=$11, is_discharge_date_visit=$12,
			is_terminal_care=$13, updated_at=NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING updated_at`,
		rec.ID, rec.NurseID, rec.VisitDate, rec.ActualStartTime, rec.ActualEndTime,
		rec.Status, rec.ServiceCodeID, rec.EmergencyVisitReason, rec.MultipleVisitReason,
		rec.IsMultipleStaff, rec.IsFirstVisitOfPlan, rec.IsDischargeDateVisit,
		rec.IsTerminalCare,
	).Scan(&rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) SaveCalculation(ctx context.Context, rec *NursingRecord) error {
	bonuses, err := json.Marshal(nonNil(rec.AppliedBonuses))
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE nursing_record SET resolved_service_code_id=$2, service_code_defaulted=$3,
			base_points=$4, calculated_points=$5, applied_bonuses=$6
		WHERE id = $1 AND deleted_at IS NULL`,
		rec.ID, rec.ResolvedServiceCodeID, rec.ServiceCodeDefaulted,
		rec.BasePoints, rec.CalculatedPoints, bonuses)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*NursingRecord, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM nursing_record WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *repoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE nursing_record SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*NursingRecord, int, error) {
	where := []string{"deleted_at IS NULL"}
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.FacilityID != nil {
		add("facility_id = $%d", *f.FacilityID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.From != nil {
		add("visit_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("visit_date <= $%d", *f.To)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM nursing_record WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT `+recordCols+` FROM nursing_record WHERE %s
		ORDER BY visit_date DESC, actual_start_time DESC NULLS LAST, created_at DESC
		LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectRecords(rows)
	return items, total, err
}

func (r *repoPG) ListSameDay(ctx context.Context, patientID, facilityID uuid.UUID, date time.Time, excluding *uuid.UUID) ([]*NursingRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recordCols+` FROM nursing_record
		WHERE patient_id = $1 AND facility_id = $2 AND visit_date = $3 AND deleted_at IS NULL
			AND ($4::uuid IS NULL OR id <> $4)
		ORDER BY actual_start_time NULLS LAST, created_at, id`,
		patientID, facilityID, date, excluding)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (r *repoPG) ListInPeriod(ctx context.Context, q PeriodQuery) ([]*NursingRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recordCols+` FROM nursing_record
		WHERE facility_id = $1 AND visit_date BETWEEN $2 AND $3 AND deleted_at IS NULL
			AND ($4::uuid IS NULL OR patient_id = $4)
			AND (NOT $5 OR status = 'completed')
		ORDER BY patient_id, visit_date, actual_start_time NULLS LAST, created_at, id`,
		q.FacilityID, q.From, q.To, q.PatientID, q.CompletedOnly)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type historyPG struct{ pool *pgxpool.Pool }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository { return &historyPG{pool: pool} }

func (r *historyPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const historyCols = `id, nursing_record_id, bonus_definition_id, bonus_code, bonus_name,
	calculated_points, definition_version, calculation_details, created_at`

func scanHistory(row pgx.Row) (*HistoryEntry, error) {
	var (
		h       HistoryEntry
		details []byte
	)
	if err := row.Scan(&h.ID, &h.NursingRecordID, &h.BonusDefinitionID, &h.BonusCode, &h.BonusName,
		&h.CalculatedPoints, &h.DefinitionVersion, &details, &h.CreatedAt); err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &h.CalculationDetails); err != nil {
			return nil, fmt.Errorf("decode calculation_details of %s: %w", h.ID, err)
		}
	}
	return &h, nil
}

// ReplaceForRecord must run inside a transaction; callers use
// Calculator.SaveBonusCalculationHistory, which opens one.
func (r *historyPG) ReplaceForRecord(ctx context.Context, recordID uuid.UUID, entries []*HistoryEntry) error {
	c := r.conn(ctx)
	if _, err := c.Exec(ctx, `DELETE FROM bonus_calculation_history WHERE nursing_record_id = $1`, recordID); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	for _, h := range entries {
		if h.ID == uuid.Nil {
			h.ID = uuid.New()
		}
		details, err := json.Marshal(h.CalculationDetails)
		if err != nil {
			return err
		}
		if details == nil || string(details) == "null" {
			details = []byte("{}")
		}
		if err := c.QueryRow(ctx, `
			INSERT INTO bonus_calculation_history (id, nursing_record_id, bonus_definition_id, bonus_code,
				bonus_name, calculated_points, definition_version, calculation_details)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING created_at`,
			h.ID, recordID, h.BonusDefinitionID, h.BonusCode, h.BonusName,
			h.CalculatedPoints, h.DefinitionVersion, details,
		).Scan(&h.CreatedAt); err != nil {
			return fmt.Errorf("insert history %s: %w", h.BonusCode, err)
		}
	}
	return nil
}

func (r *historyPG) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*HistoryEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+historyCols+` FROM bonus_calculation_history
		WHERE nursing_record_id = $1 ORDER BY bonus_code`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *historyPG) ListByRecords(ctx context.Context, recordIDs []uuid.UUID) (map[uuid.UUID][]*HistoryEntry, error) {
	out := make(map[uuid.UUID][]*HistoryEntry, len(recordIDs))
	if len(recordIDs) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+historyCols+` FROM bonus_calculation_history
		WHERE nursing_record_id = ANY($1) ORDER BY nursing_record_id, bonus_code`, recordIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out[h.NursingRecordID] = append(out[h.NursingRecordID], h)
	}
	return out, rows.Err()
}
