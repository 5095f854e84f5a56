package bonus

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/houmon/houmon/internal/platform/db"
)

type memRepo struct {
	mu   sync.Mutex
	defs map[uuid.UUID]*Definition
}

func newMemRepo() *memRepo { return &memRepo{defs: make(map[uuid.UUID]*Definition)} }

func clone(d *Definition) *Definition {
	c := *d
	return &c
}

func (m *memRepo) Create(_ context.Context, d *Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Version == 0 {
		d.Version = 1
	}
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	m.defs[d.ID] = clone(d)
	return nil
}

func (m *memRepo) Update(_ context.Context, d *Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.defs[d.ID]
	if !ok {
		return ErrNotFound
	}
	d.Version = cur.Version + 1
	d.CreatedAt = cur.CreatedAt
	m.defs[d.ID] = clone(d)
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.defs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(d), nil
}

func (m *memRepo) all() []*Definition {
	out := make([]*Definition, 0, len(m.defs))
	for _, d := range m.defs {
		out = append(out, clone(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidFrom.Before(out[j].ValidFrom) })
	return out
}

func (m *memRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Definition, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Definition
	for _, d := range m.all() {
		if f.InsuranceType != "" && d.InsuranceType != f.InsuranceType {
			continue
		}
		if f.BonusCode != "" && d.BonusCode != f.BonusCode {
			continue
		}
		if f.ActiveOnly && !d.IsActive {
			continue
		}
		out = append(out, d)
	}
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

func (m *memRepo) ListCandidates(_ context.Context, facilityID uuid.UUID, insuranceType string, date time.Time) ([]*Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Definition
	for _, d := range m.all() {
		if d.InsuranceType != insuranceType || !d.CoversDate(date) {
			continue
		}
		if d.FacilityID != nil && *d.FacilityID != facilityID {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *memRepo) ListScope(_ context.Context, code, insuranceType string, facilityID *uuid.UUID) ([]*Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	probe := &Definition{BonusCode: code, InsuranceType: insuranceType, FacilityID: facilityID}
	var out []*Definition
	for _, d := range m.all() {
		if d.IsActive && probe.SameScope(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memRepo) LockScope(context.Context, string, *uuid.UUID) error { return nil }

func (m *memRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.defs[id]
	if !ok || !d.IsActive {
		return ErrNotFound
	}
	d.IsActive = false
	d.Version++
	return nil
}

func newTestEngine(repo DefinitionSource) *Engine {
	return NewEngine(repo, zerolog.Nop(), nil)
}

func newTestService() (*Service, *memRepo) {
	repo := newMemRepo()
	return NewService(repo, newTestEngine(repo), db.NoTx{}, zerolog.Nop()), repo
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr[T any](v T) *T { return &v }

func rawJSONOf(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func fixed(code string, points int, condition string) *Definition {
	return &Definition{
		ID:            uuid.New(),
		BonusCode:     code,
		BonusName:     code,
		InsuranceType: "medical",
		PointsType:    PointsFixed,
		FixedPoints:   ptr(points),
		ConditionType: condition,
		ValidFrom:     day("2024-06-01"),
		IsActive:      true,
		Version:       1,
	}
}
