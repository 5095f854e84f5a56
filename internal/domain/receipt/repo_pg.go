package receipt

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

const receiptCols = `id, facility_id, patient_id, target_year, target_month, insurance_type,
	visit_count, total_visit_points, total_bonus_points, special_management_points,
	total_points, total_amount, bonus_breakdown, building_breakdown,
	has_errors, has_warnings, error_messages, warning_messages,
	can_export_csv, csv_export_errors, csv_export_warnings,
	is_confirmed, confirmed_by, confirmed_at, is_sent, sent_at,
	version, created_at, updated_at`

func scanReceipt(row pgx.Row) (*Receipt, error) {
	var (
		r                              Receipt
		bonus, building                []byte
		errs, warns, csvErrs, csvWarns []byte
	)
	err := row.Scan(&r.ID, &r.FacilityID, &r.PatientID, &r.Year, &r.Month, &r.InsuranceType,
		&r.VisitCount, &r.TotalVisitPoints, &r.TotalBonusPoints, &r.SpecialManagementPoints,
		&r.TotalPoints, &r.TotalAmount, &bonus, &building,
		&r.HasErrors, &r.HasWarnings, &errs, &warns,
		&r.CanExportCSV, &csvErrs, &csvWarns,
		&r.IsConfirmed, &r.ConfirmedBy, &r.ConfirmedAt, &r.IsSent, &r.SentAt,
		&r.Version, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		name string
		raw  []byte
		dst  interface{}
	}{
		{"bonus_breakdown", bonus, &r.BonusBreakdown},
		{"building_breakdown", building, &r.BuildingBreakdown},
		{"error_messages", errs, &r.ErrorMessages},
		{"warning_messages", warns, &r.WarningMessages},
		{"csv_export_errors", csvErrs, &r.CSVExportErrors},
		{"csv_export_warnings", csvWarns, &r.CSVExportWarnings},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode %s of %s: %w", f.name, r.ID, err)
		}
	}
	return &r, nil
}

func marshalAll(vs ...interface{}) ([][]byte, error) {
	out := make([][]byte, len(vs))
	for i, v := range vs {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// computedArgs returns the JSON-encoded breakdowns and findings of r in
// column order.
func computedArgs(r *Receipt) ([][]byte, error) {
	return marshalAll(nonNil(r.BonusBreakdown), nonNil(r.BuildingBreakdown),
		nonNil(r.ErrorMessages), nonNil(r.WarningMessages),
		nonNil(r.CSVExportErrors), nonNil(r.CSVExportWarnings))
}

func (r *repoPG) UpsertDraft(ctx context.Context, rec *Receipt) (bool, bool, error) {
	js, err := computedArgs(rec)
	if err != nil {
		return false, false, err
	}
	id := uuid.New()
	var inserted bool
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO monthly_receipt (id, facility_id, patient_id, target_year, target_month, insurance_type,
			visit_count, total_visit_points, total_bonus_points, special_management_points,
			total_points, total_amount, bonus_breakdown, building_breakdown,
			has_errors, has_warnings, error_messages, warning_messages,
			can_export_csv, csv_export_errors, csv_export_warnings)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		ON CONFLICT (facility_id, patient_id, target_year, target_month, insurance_type) DO UPDATE SET
			visit_count = EXCLUDED.visit_count,
			total_visit_points = EXCLUDED.total_visit_points,
			total_bonus_points = EXCLUDED.total_bonus_points,
			special_management_points = EXCLUDED.special_management_points,
			total_points = EXCLUDED.total_points,
			total_amount = EXCLUDED.total_amount,
			bonus_breakdown = EXCLUDED.bonus_breakdown,
			building_breakdown = EXCLUDED.building_breakdown,
			has_errors = EXCLUDED.has_errors,
			has_warnings = EXCLUDED.has_warnings,
			error_messages = EXCLUDED.error_messages,
			warning_messages = EXCLUDED.warning_messages,
			can_export_csv = EXCLUDED.can_export_csv,
			csv_export_errors = EXCLUDED.csv_export_errors,
			csv_export_warnings = EXCLUDED.csv_export_warnings,
			version = monthly_receipt.version + 1,
			updated_at = NOW()
		WHERE monthly_receipt.is_confirmed = FALSE
		RETURNING id, version, created_at, updated_at, (xmax = 0)`,
		id, rec.FacilityID, rec.PatientID, rec.Year, rec.Month, rec.InsuranceType,
		rec.VisitCount, rec.TotalVisitPoints, rec.TotalBonusPoints, rec.SpecialManagementPoints,
		rec.TotalPoints, rec.TotalAmount, js[0], js[1],
		rec.HasErrors, rec.HasWarnings, js[2], js[3],
		rec.CanExportCSV, js[4], js[5],
	).Scan(&rec.ID, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt, &inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, inserted, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	return scanReceipt(r.conn(ctx).QueryRow(ctx,
		`SELECT `+receiptCols+` FROM monthly_receipt WHERE id = $1`, id))
}

func (r *repoPG) GetByKey(ctx context.Context, k Key) (*Receipt, error) {
	return scanReceipt(r.conn(ctx).QueryRow(ctx, `SELECT `+receiptCols+` FROM monthly_receipt
		WHERE facility_id = $1 AND patient_id = $2 AND target_year = $3 AND target_month = $4
			AND insurance_type = $5`,
		k.FacilityID, k.PatientID, k.Year, k.Month, k.InsuranceType))
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Receipt, int, error) {
	where := []string{"TRUE"}
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
	if f.Year != 0 {
		add("target_year = $%d", f.Year)
	}
	if f.Month != 0 {
		add("target_month = $%d", f.Month)
	}
	if f.InsuranceType != "" {
		add("insurance_type = $%d", f.InsuranceType)
	}
	switch f.State {
	case StateDraft:
		where = append(where, "NOT is_confirmed")
	case StateConfirmed:
		where = append(where, "is_confirmed AND NOT is_sent")
	case StateSent:
		where = append(where, "is_sent")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM monthly_receipt WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT `+receiptCols+` FROM monthly_receipt WHERE %s
		ORDER BY target_year DESC, target_month DESC, patient_id, insurance_type
		LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Receipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

func (r *repoPG) exec(ctx context.Context, sql string, args ...interface{}) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) UpdateComputed(ctx context.Context, rec *Receipt) (bool, error) {
	js, err := computedArgs(rec)
	if err != nil {
		return false, err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE monthly_receipt SET visit_count=$2, total_visit_points=$3, total_bonus_points=$4,
			special_management_points=$5, total_points=$6, total_amount=$7,
			bonus_breakdown=$8, building_breakdown=$9, has_errors=$10, has_warnings=$11,
			error_messages=$12, warning_messages=$13, can_export_csv=$14,
			csv_export_errors=$15, csv_export_warnings=$16,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND NOT is_confirmed
		RETURNING version, updated_at`,
		rec.ID, rec.VisitCount, rec.TotalVisitPoints, rec.TotalBonusPoints,
		rec.SpecialManagementPoints, rec.TotalPoints, rec.TotalAmount,
		js[0], js[1], rec.HasErrors, rec.HasWarnings, js[2], js[3],
		rec.CanExportCSV, js[4], js[5],
	).Scan(&rec.Version, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *repoPG) SaveFindings(ctx context.Context, id uuid.UUID, v Validation, c CSVValidation) (bool, error) {
	js, err := marshalAll(nonNil(v.Errors), nonNil(v.Warnings), nonNil(c.Errors), nonNil(c.Warnings))
	if err != nil {
		return false, err
	}
	return r.exec(ctx, `
		UPDATE monthly_receipt SET has_errors=$2, has_warnings=$3, error_messages=$4, warning_messages=$5,
			can_export_csv=$6, csv_export_errors=$7, csv_export_warnings=$8,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND NOT is_confirmed`,
		id, len(v.Errors) > 0, len(v.Warnings) > 0, js[0], js[1],
		c.CanExportCSV, js[2], js[3])
}

func (r *repoPG) Confirm(ctx context.Context, id uuid.UUID, version int, by string, at time.Time, v Validation, c CSVValidation) (bool, error) {
	js, err := marshalAll(nonNil(v.Warnings), nonNil(c.Errors), nonNil(c.Warnings))
	if err != nil {
		return false, err
	}
	return r.exec(ctx, `
		UPDATE monthly_receipt SET is_confirmed = TRUE, confirmed_by=$2, confirmed_at=$3,
			has_errors = FALSE, error_messages = '[]', has_warnings=$4, warning_messages=$5,
			can_export_csv=$6, csv_export_errors=$7, csv_export_warnings=$8,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND NOT is_confirmed AND version = $9`,
		id, by, at, len(v.Warnings) > 0, js[0], c.CanExportCSV, js[1], js[2], version)
}

func (r *repoPG) Reopen(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.exec(ctx, `
		UPDATE monthly_receipt SET is_confirmed = FALSE, confirmed_by = NULL, confirmed_at = NULL,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND is_confirmed AND NOT is_sent`, id)
}

func (r *repoPG) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE monthly_receipt SET is_sent = TRUE, sent_at = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND is_confirmed AND NOT is_sent`, id, at)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.exec(ctx, `DELETE FROM monthly_receipt WHERE id = $1 AND NOT is_confirmed AND NOT is_sent`, id)
}
