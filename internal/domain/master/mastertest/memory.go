// Package mastertest provides an in-memory master.Directory for tests.
package mastertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/houmon/houmon/internal/domain/master"
	"github.com/houmon/houmon/pkg/caldate"
)

type Directory struct {
	mu           sync.RWMutex
	Facilities   map[uuid.UUID]*master.Facility
	Patients     map[uuid.UUID]*master.Patient
	Nurses       map[uuid.UUID]*master.Nurse
	ServiceCodes map[uuid.UUID]*master.ServiceCode
	Orders       []*master.DoctorOrder
	Cards        []*master.InsuranceCard
}

func New() *Directory {
	return &Directory{
		Facilities:   make(map[uuid.UUID]*master.Facility),
		Patients:     make(map[uuid.UUID]*master.Patient),
		Nurses:       make(map[uuid.UUID]*master.Nurse),
		ServiceCodes: make(map[uuid.UUID]*master.ServiceCode),
	}
}

func (d *Directory) AddFacility(f *master.Facility) *master.Facility {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	d.Facilities[f.ID] = f
	return f
}

func (d *Directory) AddPatient(p *master.Patient) *master.Patient {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.IsActive = true
	d.Patients[p.ID] = p
	return p
}

func (d *Directory) AddNurse(n *master.Nurse) *master.Nurse {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	d.Nurses[n.ID] = n
	return n
}

// AddServiceCode registers a code valid from 2000-01-01 with no end date.
func (d *Directory) AddServiceCode(code, insuranceType string, points int) *master.ServiceCode {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc := &master.ServiceCode{
		ID:            uuid.New(),
		Code:          code,
		Name:          "service " + code,
		Points:        points,
		InsuranceType: insuranceType,
		ValidFrom:     time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		IsActive:      true,
	}
	d.ServiceCodes[sc.ID] = sc
	return sc
}

func (d *Directory) AddOrder(patientID, facilityID uuid.UUID, from, to time.Time) *master.DoctorOrder {
	d.mu.Lock()
	defer d.mu.Unlock()
	o := &master.DoctorOrder{ID: uuid.New(), PatientID: patientID, FacilityID: facilityID,
		OrderDate: from, StartDate: from, EndDate: to}
	d.Orders = append(d.Orders, o)
	return o
}

func (d *Directory) AddCard(c *master.InsuranceCard) *master.InsuranceCard {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.IsActive = true
	d.Cards = append(d.Cards, c)
	return c
}

func (d *Directory) GetFacility(_ context.Context, id uuid.UUID) (*master.Facility, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.Facilities[id]
	if !ok {
		return nil, fmt.Errorf("facility: %w", master.ErrNotFound)
	}
	return f, nil
}

func (d *Directory) GetPatient(_ context.Context, id uuid.UUID) (*master.Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.Patients[id]
	if !ok {
		return nil, fmt.Errorf("patient: %w", master.ErrNotFound)
	}
	return p, nil
}

func (d *Directory) ListPatients(_ context.Context, facilityID uuid.UUID) ([]*master.Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*master.Patient
	for _, p := range d.Patients {
		if p.FacilityID == facilityID && p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatientNumber < out[j].PatientNumber })
	return out, nil
}

func (d *Directory) GetNurse(_ context.Context, id uuid.UUID) (*master.Nurse, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.Nurses[id]
	if !ok {
		return nil, fmt.Errorf("nurse: %w", master.ErrNotFound)
	}
	return n, nil
}

func (d *Directory) GetServiceCode(_ context.Context, id uuid.UUID) (*master.ServiceCode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sc, ok := d.ServiceCodes[id]
	if !ok {
		return nil, fmt.Errorf("service code: %w", master.ErrNotFound)
	}
	return sc, nil
}

func (d *Directory) FindServiceCode(_ context.Context, code string, date time.Time) (*master.ServiceCode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sc := range d.ServiceCodes {
		if sc.Code == code && sc.CoversDate(date) {
			return sc, nil
		}
	}
	return nil, fmt.Errorf("service code %s: %w", code, master.ErrNotFound)
}

func (d *Directory) ListDoctorOrders(_ context.Context, patientID uuid.UUID, from, to time.Time) ([]*master.DoctorOrder, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*master.DoctorOrder
	for _, o := range d.Orders {
		if o.PatientID != patientID {
			continue
		}
		if caldate.Normalize(o.StartDate).After(to) || caldate.Normalize(o.EndDate).Before(from) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (d *Directory) ListInsuranceCards(_ context.Context, patientID uuid.UUID) ([]*master.InsuranceCard, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*master.InsuranceCard
	for _, c := range d.Cards {
		if c.PatientID == patientID {
			out = append(out, c)
		}
	}
	return out, nil
}
