//go:build integration

package bonus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houmon/houmon/internal/platform/db"
	"github.com/houmon/houmon/internal/platform/db/dbtest"
)

func TestMain(m *testing.M) {
	dbtest.Main(m, 15443)
}

func newPGService(t *testing.T) (context.Context, *Service, Repository) {
	t.Helper()
	ctx := dbtest.Tenant(t)
	repo := NewRepoPG(dbtest.Pool())
	svc := NewService(repo, NewEngine(repo, zerolog.Nop(), nil), db.PoolTx{Pool: dbtest.Pool()}, zerolog.Nop())
	return ctx, svc, repo
}

func windowed(code, insuranceType string, points int, from string, to *time.Time) *Definition {
	d := fixed(code, points, code)
	d.ID = uuid.Nil
	d.InsuranceType = insuranceType
	d.ValidFrom = day(from)
	d.ValidTo = to
	return d
}

func TestRepoPG_SeedDefaultCatalog(t *testing.T) {
	ctx, svc, repo := newPGService(t)

	defs, err := DefaultCatalog()
	require.NoError(t, err)
	res, err := svc.Seed(ctx, defs, nil)
	require.NoError(t, err)
	assert.Equal(t, len(defs), res.Created)
	assert.Zero(t, res.Invalid)

	again, err := DefaultCatalog()
	require.NoError(t, err)
	res, err = svc.Seed(ctx, again, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Equal(t, len(defs), res.Skipped)

	_, total, err := repo.List(ctx, ListFilter{GlobalOnly: true}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, len(defs), total)
}

func TestRepoPG_FacilityOverrideResolves(t *testing.T) {
	ctx, svc, _ := newPGService(t)
	facilityID := uuid.New()
	dbtest.Exec(t, ctx, `INSERT INTO facility (id, name) VALUES ($1, 'Sakura Station')`, facilityID)

	global := windowed("long_visit", "medical", 520, "2024-06-01", nil)
	require.NoError(t, svc.CreateDefinition(ctx, global))
	local := windowed("long_visit", "medical", 600, "2024-06-01", nil)
	local.FacilityID = &facilityID
	require.NoError(t, svc.CreateDefinition(ctx, local))

	eff, err := svc.EffectiveDefinitions(ctx, EffectiveQuery{
		FacilityID: facilityID, InsuranceType: "medical", Date: day("2024-06-15"),
	})
	require.NoError(t, err)
	require.Len(t, eff, 1)
	assert.Equal(t, local.ID, eff[0].ID)
	assert.Equal(t, 600, *eff[0].FixedPoints)

	other, err := svc.EffectiveDefinitions(ctx, EffectiveQuery{
		FacilityID: uuid.New(), InsuranceType: "medical", Date: day("2024-06-15"),
	})
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, global.ID, other[0].ID)
}

func TestRepoPG_OverlapAndVersioning(t *testing.T) {
	ctx, svc, repo := newPGService(t)

	old := windowed("emergency_visit", "care", 250, "2022-04-01", ptr(day("2024-05-31")))
	require.NoError(t, svc.CreateDefinition(ctx, old))
	cur := windowed("emergency_visit", "care", 265, "2024-06-01", nil)
	require.NoError(t, svc.CreateDefinition(ctx, cur))

	clash := windowed("emergency_visit", "care", 300, "2024-05-01", nil)
	err := svc.CreateDefinition(ctx, clash)
	assert.ErrorIs(t, err, ErrOverlappingDefinition)

	cands, err := repo.ListCandidates(ctx, uuid.New(), "care", day("2024-05-15"))
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, old.ID, cands[0].ID)

	cur.FixedPoints = ptr(270)
	require.NoError(t, svc.UpdateDefinition(ctx, cur))
	got, err := repo.GetByID(ctx, cur.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, 270, *got.FixedPoints)
	assert.True(t, got.ValidFrom.Equal(day("2024-06-01")))

	require.NoError(t, svc.DeactivateDefinition(ctx, cur.ID))
	assert.ErrorIs(t, repo.Deactivate(ctx, cur.ID), ErrNotFound)
	replacement := windowed("emergency_visit", "care", 300, "2024-06-01", nil)
	require.NoError(t, svc.CreateDefinition(ctx, replacement), "a deactivated definition frees its window")
}

func TestRepoPG_LockScopeReleasedOnCommit(t *testing.T) {
	ctx, _, repo := newPGService(t)
	tx := db.PoolTx{Pool: dbtest.Pool()}
	lockIt := func(ctx context.Context) error { return repo.LockScope(ctx, "long_visit", nil) }

	require.NoError(t, tx.InTx(ctx, lockIt))

	other, release, err := db.AcquireTenant(context.Background(), dbtest.Pool(), db.TenantFromContext(ctx))
	require.NoError(t, err)
	defer release()
	tctx, cancel := context.WithTimeout(other, 5*time.Second)
	defer cancel()
	require.NoError(t, tx.InTx(tctx, lockIt), "a second connection must get the lock once the first commits")
}
