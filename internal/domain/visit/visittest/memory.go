// Package visittest provides in-memory nursing record and history stores for
// tests.
package visittest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/houmon/houmon/internal/domain/visit"
	"github.com/houmon/houmon/pkg/caldate"
)

type Records struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*visit.NursingRecord
	// clock hands out strictly increasing creation times.
	clock time.Time
}

func NewRecords() *Records {
	return &Records{
		byID:  make(map[uuid.UUID]*visit.NursingRecord),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func clone(r *visit.NursingRecord) *visit.NursingRecord {
	c := *r
	c.AppliedBonuses = append(c.AppliedBonuses[:0:0], r.AppliedBonuses...)
	return &c
}

func (m *Records) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

// Put stores r as-is, for seeding fixtures that bypass the service.
func (m *Records) Put(r *visit.NursingRecord) *visit.NursingRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.tick()
	}
	r.VisitDate = caldate.Normalize(r.VisitDate)
	m.byID[r.ID] = clone(r)
	return r
}

func (m *Records) Create(_ context.Context, r *visit.NursingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = m.tick()
	r.UpdatedAt = r.CreatedAt
	m.byID[r.ID] = clone(r)
	return nil
}

func (m *Records) live(id uuid.UUID) (*visit.NursingRecord, bool) {
	r, ok := m.byID[id]
	if !ok || r.DeletedAt != nil {
		return nil, false
	}
	return r, true
}

func (m *Records) Update(_ context.Context, r *visit.NursingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.live(r.ID)
	if !ok {
		return visit.ErrNotFound
	}
	next := clone(r)
	next.FacilityID, next.PatientID, next.CreatedAt = cur.FacilityID, cur.PatientID, cur.CreatedAt
	next.BasePoints, next.CalculatedPoints = cur.BasePoints, cur.CalculatedPoints
	next.ResolvedServiceCodeID, next.ServiceCodeDefaulted = cur.ResolvedServiceCodeID, cur.ServiceCodeDefaulted
	next.AppliedBonuses = cur.AppliedBonuses
	next.UpdatedAt = m.tick()
	m.byID[r.ID] = next
	return nil
}

func (m *Records) SaveCalculation(_ context.Context, r *visit.NursingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.live(r.ID)
	if !ok {
		return visit.ErrNotFound
	}
	cur.ResolvedServiceCodeID = r.ResolvedServiceCodeID
	cur.ServiceCodeDefaulted = r.ServiceCodeDefaulted
	cur.BasePoints = r.BasePoints
	cur.CalculatedPoints = r.CalculatedPoints
	cur.AppliedBonuses = append(r.AppliedBonuses[:0:0], r.AppliedBonuses...)
	return nil
}

func (m *Records) GetByID(_ context.Context, id uuid.UUID) (*visit.NursingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.live(id)
	if !ok {
		return nil, visit.ErrNotFound
	}
	return clone(r), nil
}

func (m *Records) SoftDelete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.live(id)
	if !ok {
		return visit.ErrNotFound
	}
	now := m.tick()
	r.DeletedAt = &now
	return nil
}

func (m *Records) sorted(keep func(*visit.NursingRecord) bool) []*visit.NursingRecord {
	var out []*visit.NursingRecord
	for _, r := range m.byID {
		if r.DeletedAt == nil && keep(r) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PatientID != out[j].PatientID {
			return out[i].PatientID.String() < out[j].PatientID.String()
		}
		if !out[i].VisitDate.Equal(out[j].VisitDate) {
			return out[i].VisitDate.Before(out[j].VisitDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Records) List(_ context.Context, f visit.ListFilter, limit, offset int) ([]*visit.NursingRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(r *visit.NursingRecord) bool {
		switch {
		case f.FacilityID != nil && r.FacilityID != *f.FacilityID,
			f.PatientID != nil && r.PatientID != *f.PatientID,
			f.From != nil && r.VisitDate.Before(*f.From),
			f.To != nil && r.VisitDate.After(*f.To),
			f.Status != "" && r.Status != f.Status:
			return false
		}
		return true
	})
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *Records) ListSameDay(_ context.Context, patientID, facilityID uuid.UUID, date time.Time, excluding *uuid.UUID) ([]*visit.NursingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(r *visit.NursingRecord) bool {
		if excluding != nil && r.ID == *excluding {
			return false
		}
		return r.PatientID == patientID && r.FacilityID == facilityID && caldate.SameDay(r.VisitDate, date)
	}), nil
}

func (m *Records) ListInPeriod(_ context.Context, q visit.PeriodQuery) ([]*visit.NursingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(r *visit.NursingRecord) bool {
		if r.FacilityID != q.FacilityID || (q.PatientID != nil && r.PatientID != *q.PatientID) {
			return false
		}
		if q.CompletedOnly && !r.IsCompleted() {
			return false
		}
		return caldate.Within(r.VisitDate, q.From, &q.To)
	}), nil
}

type History struct {
	mu       sync.Mutex
	byRecord map[uuid.UUID][]*visit.HistoryEntry
	// Writes counts ReplaceForRecord calls per record.
	Writes map[uuid.UUID]int
}

func NewHistory() *History {
	return &History{
		byRecord: make(map[uuid.UUID][]*visit.HistoryEntry),
		Writes:   make(map[uuid.UUID]int),
	}
}

func (h *History) ReplaceForRecord(_ context.Context, recordID uuid.UUID, entries []*visit.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	rows := make([]*visit.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		c := *e
		c.NursingRecordID = recordID
		rows = append(rows, &c)
	}
	h.byRecord[recordID] = rows
	h.Writes[recordID]++
	return nil
}

// Put appends a single row, for fixtures.
func (h *History) Put(e *visit.HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	h.byRecord[e.NursingRecordID] = append(h.byRecord[e.NursingRecordID], e)
}

func (h *History) ListByRecord(_ context.Context, recordID uuid.UUID) ([]*visit.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*visit.HistoryEntry(nil), h.byRecord[recordID]...), nil
}

func (h *History) ListByRecords(_ context.Context, recordIDs []uuid.UUID) (map[uuid.UUID][]*visit.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[uuid.UUID][]*visit.HistoryEntry, len(recordIDs))
	for _, id := range recordIDs {
		if rows := h.byRecord[id]; len(rows) > 0 {
			out[id] = append([]*visit.HistoryEntry(nil), rows...)
		}
	}
	return out, nil
}
