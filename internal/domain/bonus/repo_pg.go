package bonus

import (
	"context"
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

const defCols = `id, facility_id, bonus_code, bonus_name, description, insurance_type,
	points_type, fixed_points, points_config, points_formula,
	condition_type, condition_params, condition_expr,
	valid_from, valid_to, is_active, display_order, version, created_at, updated_at`

func scanDefinition(row pgx.Row) (*Definition, error) {
	var d Definition
	err := row.Scan(&d.ID, &d.FacilityID, &d.BonusCode, &d.BonusName, &d.Description, &d.InsuranceType,
		&d.PointsType, &d.FixedPoints, &d.PointsConfig, &d.PointsFormula,
		&d.ConditionType, &d.ConditionParams, &d.ConditionExpr,
		&d.ValidFrom, &d.ValidTo, &d.IsActive, &d.DisplayOrder, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &d, err
}

func collectDefinitions(rows pgx.Rows) ([]*Definition, error) {
	defer rows.Close()
	var out []*Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, d *Definition) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Version == 0 {
		d.Version = 1
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bonus_definition (id, facility_id, bonus_code, bonus_name, description, insurance_type,
			points_type, fixed_points, points_config, points_formula,
			condition_type, condition_params, condition_expr,
			valid_from, valid_to, is_active, display_order, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING created_at, updated_at`,
		d.ID, d.FacilityID, d.BonusCode, d.BonusName, d.Description, d.InsuranceType,
		d.PointsType, d.FixedPoints, d.PointsConfig, d.PointsFormula,
		d.ConditionType, d.ConditionParams, d.ConditionExpr,
		d.ValidFrom, d.ValidTo, d.IsActive, d.DisplayOrder, d.Version,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *repoPG) Update(ctx context.Context, d *Definition) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE bonus_definition SET bonus_name=$2, description=$3,
			points_type=$4, fixed_points=$5, points_config=$6, points_formula=$7,
			condition_type=$8, condition_params=$9, condition_expr=$10,
			valid_from=$11, valid_to=$12, is_active=$13, display_order=$14,
			version = version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING version, updated_at`,
		d.ID, d.BonusName, d.Description,
		d.PointsType, d.FixedPoints, d.PointsConfig, d.PointsFormula,
		d.ConditionType, d.ConditionParams, d.ConditionExpr,
		d.ValidFrom, d.ValidTo, d.IsActive, d.DisplayOrder,
	).Scan(&d.Version, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Definition, error) {
	return scanDefinition(r.conn(ctx).QueryRow(ctx, `SELECT `+defCols+` FROM bonus_definition WHERE id = $1`, id))
}

func (r *repoPG) ListCandidates(ctx context.Context, facilityID uuid.UUID, insuranceType string, date time.Time) ([]*Definition, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+defCols+` FROM bonus_definition
		WHERE is_active AND insurance_type = $2
			AND (facility_id IS NULL OR facility_id = $1)
			AND valid_from <= $3 AND (valid_to IS NULL OR valid_to >= $3)
		ORDER BY display_order, bonus_code`, facilityID, insuranceType, date)
	if err != nil {
		return nil, err
	}
	return collectDefinitions(rows)
}

func (r *repoPG) ListScope(ctx context.Context, code, insuranceType string, facilityID *uuid.UUID) ([]*Definition, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+defCols+` FROM bonus_definition
		WHERE is_active AND bonus_code = $1 AND insurance_type = $2
			AND facility_id IS NOT DISTINCT FROM $3
		ORDER BY valid_from`, code, insuranceType, facilityID)
	if err != nil {
		return nil, err
	}
	return collectDefinitions(rows)
}

func (r *repoPG) LockScope(ctx context.Context, code string, facilityID *uuid.UUID) error {
	scope := "global"
	if facilityID != nil {
		scope = facilityID.String()
	}
	_, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "bonus_definition:"+code+":"+scope)
	return err
}

func (r *repoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bonus_definition SET is_active = FALSE, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND is_active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Definition, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	switch {
	case f.GlobalOnly:
		where = append(where, "facility_id IS NULL")
	case f.FacilityID != nil:
		add("(facility_id IS NULL OR facility_id = $%d)", *f.FacilityID)
	}
	if f.InsuranceType != "" {
		add("insurance_type = $%d", f.InsuranceType)
	}
	if f.BonusCode != "" {
		add("bonus_code = $%d", f.BonusCode)
	}
	if f.ActiveOnly {
		where = append(where, "is_active")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bonus_definition`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT %s FROM bonus_definition%s
		ORDER BY insurance_type, display_order, bonus_code, valid_from
		LIMIT $%d OFFSET $%d`, defCols, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defs, err := collectDefinitions(rows)
	return defs, total, err
}
