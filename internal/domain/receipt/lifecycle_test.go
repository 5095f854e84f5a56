package receipt_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houmon/houmon/internal/domain/receipt"
)

func TestLifecycle_ConfirmRecalculateReopen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.visit(t, "2024-06-01", "08:00", "08:30")
	_, r := f.generate(t)
	require.False(t, r.HasErrors)

	res, err := f.svc.FinalizeReceipt(ctx, r.ID, "billing-1")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.True(t, res.Receipt.IsConfirmed)
	assert.Equal(t, "billing-1", *res.Receipt.ConfirmedBy)
	assert.NotNil(t, res.Receipt.ConfirmedAt)
	assert.Equal(t, receipt.StateConfirmed, res.Receipt.State())

	f.visit(t, "2024-06-02", "08:00", "08:30")
	res, err = f.svc.RecalculateReceipt(ctx, r.ID)
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.Equal(t, receipt.RejectAlreadyConfirmed, res.Rejection.Code)
	stored, _ := f.svc.Get(ctx, r.ID)
	assert.Equal(t, 1, stored.VisitCount)
	assert.True(t, stored.IsConfirmed)

	res, err = f.svc.ReopenReceipt(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.False(t, res.Receipt.IsConfirmed)
	assert.Nil(t, res.Receipt.ConfirmedBy)

	res, err = f.svc.RecalculateReceipt(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, 2, res.Receipt.VisitCount)
	assert.Equal(t, 942, res.Receipt.TotalPoints)
}

func TestFinalize_RejectsReceiptWithErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dir.Orders = nil
	f.visit(t, "2024-06-01", "08:00", "08:30")
	_, r := f.generate(t)
	require.True(t, r.HasErrors)

	res, err := f.svc.FinalizeReceipt(ctx, r.ID, "billing-1")
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.Equal(t, receipt.RejectHasErrors, res.Rejection.Code)
	assert.Equal(t, []string{receipt.CodeDoctorOrderMissing}, messageCodes(res.Rejection.Errors))
	assert.False(t, res.Receipt.IsConfirmed)
	assert.True(t, res.Receipt.HasErrors)

	f.dir.AddOrder(f.patient.ID, f.facility.ID, day("2024-05-15"), day("2024-11-14"))
	res, err = f.svc.FinalizeReceipt(ctx, r.ID, "billing-1")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.False(t, res.Receipt.HasErrors)
	assert.Empty(t, res.Receipt.ErrorMessages)
}

func TestFinalize_RejectsOutdatedTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.visit(t, "2024-06-01", "08:00", "08:30")
	_, r := f.generate(t)

	f.visit(t, "2024-06-01", "15:00", "15:30")
	res, err := f.svc.FinalizeReceipt(ctx, r.ID, "billing-1")
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.Equal(t, []string{receipt.CodeReceiptOutdated}, messageCodes(res.Rejection.Errors))

	res, err = f.svc.RecalculateReceipt(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, 471+450, res.Receipt.TotalPoints)

	res, err = f.svc.FinalizeReceipt(ctx, r.ID, "billing-1")
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestFinalize_ExportReadinessDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.facility.InstitutionCode = nil
	f.visit(t, "2024-06-01", "08:00", "08:30")
	_, r := f.generate(t)
	assert.False(t, r.CanExportCSV)

	res, err := f.svc.FinalizeReceipt(ctx, r.ID, "billing-1")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.True(t, res.Receipt.IsConfirmed)
	assert.False(t, res.Receipt.CanExportCSV)
	assert.Contains(t, messageCodes(res.Receipt.CSVExportErrors), receipt.CodeInstitutionCodeMissing)
}

func TestFinalize_RequiresUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.FinalizeReceipt(context.Background(), uuid.New(), "")
	assert.Error(t, err)
}

func TestMarkSent_FreezesReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.visit(t, "2024-06-01", "08:00", "08:30")
	_, r := f.generate(t)

	res, err := f.svc.MarkSent(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, receipt.RejectNotConfirmed, res.Rejection.Code)

	res, err = f.svc.FinalizeReceipt(ctx, r.ID, "billing-1")
	require.NoError(t, err)
	require.True(t, res.OK())

	res, err = f.svc.MarkSent(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.True(t, res.Receipt.IsSent)
	assert.True(t, res.Receipt.IsConfirmed)
	assert.NotNil(t, res.Receipt.SentAt)
	assert.Equal(t, receipt.StateSent, res.Receipt.State())

	for name, op := range map[string]func(context.Context, uuid.UUID) (*receipt.TransitionResult, error){
		"reopen":      f.svc.ReopenReceipt,
		"recalculate": f.svc.RecalculateReceipt,
		"delete":      f.svc.DeleteReceipt,
		"mark sent":   f.svc.MarkSent,
	} {
		res, err := op(ctx, r.ID)
		require.NoError(t, err, name)
		require.False(t, res.OK(), name)
		assert.Equal(t, receipt.RejectAlreadySent, res.Rejection.Code, name)
	}

	stored, _ := f.svc.Get(ctx, r.ID)
	assert.True(t, stored.IsSent)
	assert.True(t, stored.IsConfirmed)
}

func TestDeleteReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.visit(t, "2024-06-01", "08:00", "08:30")
	_, r := f.generate(t)

	res, err := f.svc.FinalizeReceipt(ctx, r.ID, "billing-1")
	require.NoError(t, err)
	require.True(t, res.OK())
	res, err = f.svc.DeleteReceipt(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, receipt.RejectAlreadyConfirmed, res.Rejection.Code)

	res, err = f.svc.ReopenReceipt(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, res.OK())
	res, err = f.svc.DeleteReceipt(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, res.OK())

	_, err = f.svc.Get(ctx, r.ID)
	assert.ErrorIs(t, err, receipt.ErrNotFound)

	res, err = f.svc.DeleteReceipt(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, receipt.RejectNotFound, res.Rejection.Code)
}

func TestReopen_RequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	f.visit(t, "2024-06-01", "08:00", "08:30")
	_, r := f.generate(t)

	res, err := f.svc.ReopenReceipt(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, receipt.RejectNotConfirmed, res.Rejection.Code)
}
