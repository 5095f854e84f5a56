package master

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/houmon/houmon/internal/platform/db"
)

type directoryPG struct{ pool *pgxpool.Pool }

func NewDirectoryPG(pool *pgxpool.Pool) Directory { return &directoryPG{pool: pool} }

func (r *directoryPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func (r *directoryPG) GetFacility(ctx context.Context, id uuid.UUID) (*Facility, error) {
	var f Facility
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, institution_code, prefecture_code, has_24h_support,
			has_emergency_support, has_burden_reduction, default_service_code
		FROM facility WHERE id = $1`, id).
		Scan(&f.ID, &f.Name, &f.InstitutionCode, &f.PrefectureCode, &f.Has24HourSupport,
			&f.HasEmergencySupport, &f.HasBurdenReduction, &f.DefaultServiceCode)
	if err != nil {
		return nil, notFound(err, "facility")
	}
	return &f, nil
}

const patientCols = `id, facility_id, patient_number, last_name, first_name, birth_date,
	building_id, insurance_type, special_management_types, last_discharge_date,
	last_plan_created_date, death_date, is_active`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FacilityID, &p.PatientNumber, &p.LastName, &p.FirstName, &p.BirthDate,
		&p.BuildingID, &p.InsuranceType, &p.SpecialManagementTypes, &p.LastDischargeDate,
		&p.LastPlanCreatedDate, &p.DeathDate, &p.IsActive)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *directoryPG) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		return nil, notFound(err, "patient")
	}
	return p, nil
}

func (r *directoryPG) ListPatients(ctx context.Context, facilityID uuid.UUID) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+patientCols+` FROM patient
		WHERE facility_id = $1 AND is_active AND deleted_at IS NULL
		ORDER BY patient_number`, facilityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *directoryPG) GetNurse(ctx context.Context, id uuid.UUID) (*Nurse, error) {
	var n Nurse
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, facility_id, full_name, specialist_certifications
		FROM nurse WHERE id = $1`, id).
		Scan(&n.ID, &n.FacilityID, &n.FullName, &n.SpecialistCertifications)
	if err != nil {
		return nil, notFound(err, "nurse")
	}
	return &n, nil
}

const serviceCodeCols = `id, service_code, service_name, points, insurance_type, valid_from, valid_to, is_active`

func scanServiceCode(row pgx.Row) (*ServiceCode, error) {
	var s ServiceCode
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Points, &s.InsuranceType, &s.ValidFrom, &s.ValidTo, &s.IsActive)
	if err != nil {
		return nil, notFound(err, "service code")
	}
	return &s, nil
}

func (r *directoryPG) GetServiceCode(ctx context.Context, id uuid.UUID) (*ServiceCode, error) {
	return scanServiceCode(r.conn(ctx).QueryRow(ctx,
		`SELECT `+serviceCodeCols+` FROM service_code WHERE id = $1`, id))
}

func (r *directoryPG) FindServiceCode(ctx context.Context, code string, date time.Time) (*ServiceCode, error) {
	return scanServiceCode(r.conn(ctx).QueryRow(ctx, `
		SELECT `+serviceCodeCols+` FROM service_code
		WHERE service_code = $1 AND is_active
			AND valid_from <= $2 AND (valid_to IS NULL OR valid_to >= $2)
		ORDER BY valid_from DESC LIMIT 1`, code, date))
}

func (r *directoryPG) ListDoctorOrders(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*DoctorOrder, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, facility_id, patient_id, order_date, start_date, end_date
		FROM doctor_order
		WHERE patient_id = $1 AND deleted_at IS NULL
			AND start_date <= $3 AND end_date >= $2
		ORDER BY start_date`, patientID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*DoctorOrder
	for rows.Next() {
		var o DoctorOrder
		if err := rows.Scan(&o.ID, &o.FacilityID, &o.PatientID, &o.OrderDate, &o.StartDate, &o.EndDate); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (r *directoryPG) ListInsuranceCards(ctx context.Context, patientID uuid.UUID) ([]*InsuranceCard, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, facility_id, patient_id, insurance_type, insurer_number, insured_number,
			certification_date, copayment_rate, valid_from, valid_until, is_active
		FROM insurance_card
		WHERE patient_id = $1
		ORDER BY valid_from`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*InsuranceCard
	for rows.Next() {
		var c InsuranceCard
		if err := rows.Scan(&c.ID, &c.FacilityID, &c.PatientID, &c.InsuranceType, &c.InsurerNumber,
			&c.InsuredNumber, &c.CertificationDate, &c.CopaymentRate, &c.ValidFrom, &c.ValidUntil,
			&c.IsActive); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
