package export_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houmon/houmon/internal/domain/export"
	"github.com/houmon/houmon/internal/domain/master"
	"github.com/houmon/houmon/internal/domain/receipt"
	"github.com/houmon/houmon/internal/platform/apperr"
)

func TestService_PeriodBatchLoadsMasterData(t *testing.T) {
	f := newFixture(t)
	p := f.patient("P-001", "山田", "花子")
	r := f.confirmed(p, 471, emergency())

	b, err := f.svc.PeriodBatch(context.Background(), f.facility.ID, 2024, 6, master.InsuranceCare)
	require.NoError(t, err)
	require.Len(t, b.Rows, 1)
	assert.Equal(t, r.ID, b.Rows[0].Receipt.ID)
	assert.Equal(t, p.ID, b.Rows[0].Patient.ID)
	require.NotNil(t, b.Rows[0].Card)
	assert.Equal(t, "131011", *b.Rows[0].Card.InsurerNumber)
	assert.Equal(t, f.facility.ID, b.Facility.ID)
}

func TestService_PeriodBatchRefusesDrafts(t *testing.T) {
	f := newFixture(t)
	f.confirmed(f.patient("P-001", "山田", "花子"), 471)
	draft := f.confirmed(f.patient("P-002", "鈴木", "一郎"), 942)
	draft.IsConfirmed = false
	f.receipts.Put(draft)

	_, err := f.svc.PeriodBatch(context.Background(), f.facility.ID, 2024, 6, master.InsuranceCare)
	var nr *export.NotReadyError
	require.True(t, errors.As(err, &nr), "got %v", err)
	require.Len(t, nr.Blocked, 1)
	assert.Equal(t, draft.ID, nr.Blocked[0].ReceiptID)
	assert.Equal(t, export.BlockedNotConfirmed, nr.Blocked[0].Reason)
}

func TestService_MasterDataChangedAfterConfirmation(t *testing.T) {
	f := newFixture(t)
	p := f.patient("P-001", "山田", "花子")
	r := f.confirmed(p, 471)
	f.dir.Cards[0].InsurerNumber = nil

	_, err := f.svc.ReceiptBatch(context.Background(), r)
	var nr *export.NotReadyError
	require.True(t, errors.As(err, &nr), "got %v", err)
	assert.Equal(t, export.BlockedCSVErrors, nr.Blocked[0].Reason)
	require.Len(t, nr.Blocked[0].Errors, 1)
	assert.Equal(t, receipt.CodeInsurerNumberMissing, nr.Blocked[0].Errors[0].Code)
}

func TestService_StoredExportFlagIsHonoured(t *testing.T) {
	f := newFixture(t)
	r := f.confirmed(f.patient("P-001", "山田", "花子"), 471)
	r.CanExportCSV = false
	r.CSVExportErrors = []receipt.Message{{Code: receipt.CodeBirthDateMissing, Message: "patient birth date is missing"}}
	f.receipts.Put(r)

	got, err := f.svc.Lookup(context.Background(), r.ID)
	require.NoError(t, err)
	_, err = f.svc.ReceiptBatch(context.Background(), got)
	var nr *export.NotReadyError
	require.True(t, errors.As(err, &nr))
	assert.Equal(t, r.CSVExportErrors, nr.Blocked[0].Errors)
}

func TestService_PeriodBatchInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.PeriodBatch(ctx, f.facility.ID, 2024, 13, "dental")
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Fields, 2)

	_, err = f.svc.PeriodBatch(ctx, f.facility.ID, 2024, 6, master.InsuranceCare)
	assert.ErrorIs(t, err, export.ErrNoReceipts)

	_, err = f.svc.Lookup(ctx, uuid.New())
	assert.ErrorIs(t, err, receipt.ErrNotFound)
}
