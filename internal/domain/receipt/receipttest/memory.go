// Package receipttest provides an in-memory receipt store for tests.
package receipttest

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/houmon/houmon/internal/domain/receipt"
)

// Receipts enforces the same key uniqueness and conditional updates as the
// Postgres store.
type Receipts struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*receipt.Receipt
	clock time.Time
}

func NewReceipts() *Receipts {
	return &Receipts{
		byID:  make(map[uuid.UUID]*receipt.Receipt),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *Receipts) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func clone(r *receipt.Receipt) *receipt.Receipt {
	c := *r
	c.BonusBreakdown = append([]receipt.BonusLine(nil), r.BonusBreakdown...)
	c.BuildingBreakdown = append([]receipt.BuildingLine(nil), r.BuildingBreakdown...)
	c.ErrorMessages = append([]receipt.Message(nil), r.ErrorMessages...)
	c.WarningMessages = append([]receipt.Message(nil), r.WarningMessages...)
	c.CSVExportErrors = append([]receipt.Message(nil), r.CSVExportErrors...)
	c.CSVExportWarnings = append([]receipt.Message(nil), r.CSVExportWarnings...)
	return &c
}

func (m *Receipts) byKey(k receipt.Key) *receipt.Receipt {
	for _, r := range m.byID {
		if r.Key == k {
			return r
		}
	}
	return nil
}

// Put stores r as-is, for fixtures.
func (m *Receipts) Put(r *receipt.Receipt) *receipt.Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Version == 0 {
		r.Version = 1
	}
	m.byID[r.ID] = clone(r)
	return r
}

func copyComputed(dst, src *receipt.Receipt) {
	dst.Totals = src.Totals
	dst.HasErrors, dst.HasWarnings = src.HasErrors, src.HasWarnings
	dst.ErrorMessages, dst.WarningMessages = src.ErrorMessages, src.WarningMessages
	dst.CanExportCSV = src.CanExportCSV
	dst.CSVExportErrors, dst.CSVExportWarnings = src.CSVExportErrors, src.CSVExportWarnings
}

func (m *Receipts) UpsertDraft(_ context.Context, r *receipt.Receipt) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	if cur := m.byKey(r.Key); cur != nil {
		if cur.IsConfirmed {
			return false, false, nil
		}
		copyComputed(cur, clone(r))
		cur.Version++
		cur.UpdatedAt = now
		r.ID, r.Version, r.CreatedAt, r.UpdatedAt = cur.ID, cur.Version, cur.CreatedAt, cur.UpdatedAt
		return true, false, nil
	}
	r.ID = uuid.New()
	r.Version = 1
	r.CreatedAt, r.UpdatedAt = now, now
	m.byID[r.ID] = clone(r)
	return true, true, nil
}

func (m *Receipts) GetByID(_ context.Context, id uuid.UUID) (*receipt.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, receipt.ErrNotFound
	}
	return clone(r), nil
}

func (m *Receipts) GetByKey(_ context.Context, k receipt.Key) (*receipt.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.byKey(k)
	if r == nil {
		return nil, receipt.ErrNotFound
	}
	return clone(r), nil
}

func (m *Receipts) List(_ context.Context, f receipt.ListFilter, limit, offset int) ([]*receipt.Receipt, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*receipt.Receipt
	for _, r := range m.byID {
		switch {
		case f.FacilityID != nil && r.FacilityID != *f.FacilityID,
			f.PatientID != nil && r.PatientID != *f.PatientID,
			f.Year != 0 && r.Year != f.Year,
			f.Month != 0 && r.Month != f.Month,
			f.InsuranceType != "" && r.InsuranceType != f.InsuranceType,
			f.State != "" && r.State() != f.State:
			continue
		}
		all = append(all, clone(r))
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Year != b.Year {
			return a.Year > b.Year
		}
		if a.Month != b.Month {
			return a.Month > b.Month
		}
		if a.PatientID != b.PatientID {
			return bytes.Compare(a.PatientID[:], b.PatientID[:]) < 0
		}
		return a.InsuranceType < b.InsuranceType
	})
	total := len(all)
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

// update applies fn to the stored receipt when cond holds.
func (m *Receipts) update(id uuid.UUID, cond func(*receipt.Receipt) bool, fn func(*receipt.Receipt)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok || !cond(r) {
		return false
	}
	fn(r)
	r.Version++
	r.UpdatedAt = m.tick()
	return true
}

func draft(r *receipt.Receipt) bool { return !r.IsConfirmed }

func (m *Receipts) UpdateComputed(_ context.Context, r *receipt.Receipt) (bool, error) {
	src := clone(r)
	ok := m.update(r.ID, draft, func(cur *receipt.Receipt) {
		copyComputed(cur, src)
		r.Version, r.UpdatedAt = cur.Version+1, m.clock.Add(time.Second)
	})
	return ok, nil
}

func (m *Receipts) SaveFindings(_ context.Context, id uuid.UUID, v receipt.Validation, c receipt.CSVValidation) (bool, error) {
	return m.update(id, draft, func(cur *receipt.Receipt) {
		cur.HasErrors, cur.HasWarnings = len(v.Errors) > 0, len(v.Warnings) > 0
		cur.ErrorMessages, cur.WarningMessages = v.Errors, v.Warnings
		cur.CanExportCSV, cur.CSVExportErrors, cur.CSVExportWarnings = c.CanExportCSV, c.Errors, c.Warnings
	}), nil
}

func (m *Receipts) Confirm(_ context.Context, id uuid.UUID, version int, by string, at time.Time, v receipt.Validation, c receipt.CSVValidation) (bool, error) {
	return m.update(id, func(r *receipt.Receipt) bool { return !r.IsConfirmed && r.Version == version },
		func(cur *receipt.Receipt) {
			cur.IsConfirmed = true
			cur.ConfirmedBy, cur.ConfirmedAt = &by, &at
			cur.HasErrors, cur.ErrorMessages = false, []receipt.Message{}
			cur.HasWarnings, cur.WarningMessages = len(v.Warnings) > 0, v.Warnings
			cur.CanExportCSV, cur.CSVExportErrors, cur.CSVExportWarnings = c.CanExportCSV, c.Errors, c.Warnings
		}), nil
}

func (m *Receipts) Reopen(_ context.Context, id uuid.UUID) (bool, error) {
	return m.update(id, func(r *receipt.Receipt) bool { return r.IsConfirmed && !r.IsSent },
		func(cur *receipt.Receipt) {
			cur.IsConfirmed = false
			cur.ConfirmedBy, cur.ConfirmedAt = nil, nil
		}), nil
}

func (m *Receipts) MarkSent(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return m.update(id, func(r *receipt.Receipt) bool { return r.IsConfirmed && !r.IsSent },
		func(cur *receipt.Receipt) {
			cur.IsSent = true
			cur.SentAt = &at
		}), nil
}

func (m *Receipts) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok || r.IsConfirmed || r.IsSent {
		return false, nil
	}
	delete(m.byID, id)
	return true, nil
}
