package export_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/houmon/houmon/internal/domain/export"
	"github.com/houmon/houmon/internal/domain/master"
)

func decodeCSV(t *testing.T, raw []byte) [][]string {
	t.Helper()
	r := csv.NewReader(transform.NewReader(bytes.NewReader(raw), japanese.ShiftJIS.NewDecoder()))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	require.NoError(t, err)
	return records
}

func juneBatch(t *testing.T, f *fixture) *export.Batch {
	t.Helper()
	b, err := f.svc.PeriodBatch(context.Background(), f.facility.ID, 2024, 6, master.InsuranceCare)
	require.NoError(t, err)
	return b
}

func TestBuildCSV_Layout(t *testing.T) {
	f := newFixture(t)
	p := f.patient("P-001", "山田", "花子")
	f.confirmed(p, 471, emergency(), multiple())

	var buf bytes.Buffer
	require.NoError(t, export.BuildCSV(&buf, juneBatch(t, f)))

	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("\r\n")), "records end with CRLF")
	assert.False(t, bytes.Contains(buf.Bytes(), []byte("山田")), "output is not UTF-8")

	assert.Equal(t, [][]string{
		{"IR", "1312345678", "13", "さくら訪問看護ステーション", "202406", "care"},
		{"RE", "1", "P-001", "山田 花子", "19400401", "131011", "0000012345", "20231001", "10"},
		{"RT", "1", "2", "471", "715", "0", "1186", "11860"},
		{"SI", "1", "emergency_visit", "緊急訪問加算", "1", "265"},
		{"SI", "1", "multiple_visit", "複数回訪問加算", "1", "450"},
		{"GO", "1", "1186", "11860"},
	}, decodeCSV(t, buf.Bytes()))
}

func TestBuildCSV_OrdersByPatientNumberAndTotals(t *testing.T) {
	f := newFixture(t)
	second := f.patient("P-002", "鈴木", "一郎")
	first := f.patient("P-001", "山田", "花子")
	f.confirmed(second, 942)
	f.confirmed(first, 471, emergency())

	var buf bytes.Buffer
	require.NoError(t, export.BuildCSV(&buf, juneBatch(t, f)))
	records := decodeCSV(t, buf.Bytes())

	var patients []string
	for _, r := range records {
		if r[0] == "RE" {
			patients = append(patients, r[2])
		}
	}
	assert.Equal(t, []string{"P-001", "P-002"}, patients)
	assert.Equal(t, []string{"GO", "2", "1678", "16780"}, records[len(records)-1])
}

func TestBuildCSV_RefusesUnexportable(t *testing.T) {
	f := newFixture(t)
	p := f.patient("P-001", "山田", "花子")
	b := juneBatchWith(t, f, p)

	b.Rows[0].Receipt.IsConfirmed = false
	var buf bytes.Buffer
	err := export.BuildCSV(&buf, b)
	require.ErrorIs(t, err, export.ErrNotExportable)
	var nr *export.NotReadyError
	require.True(t, errors.As(err, &nr))
	assert.Equal(t, export.BlockedNotConfirmed, nr.Blocked[0].Reason)
	assert.Zero(t, buf.Len(), "nothing is written")

	b.Rows[0].Receipt.IsConfirmed = true
	b.Rows[0].Receipt.CanExportCSV = false
	err = export.BuildExcel(&buf, b)
	require.True(t, errors.As(err, &nr))
	assert.Equal(t, export.BlockedCSVErrors, nr.Blocked[0].Reason)
	assert.Zero(t, buf.Len())
}

func TestBuildCSV_RejectsCharactersOutsideShiftJIS(t *testing.T) {
	f := newFixture(t)
	p := f.patient("P-001", "山田", "花子😀")
	b := juneBatchWith(t, f, p)

	err := export.BuildCSV(&bytes.Buffer{}, b)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, export.ErrNotExportable)
}

func juneBatchWith(t *testing.T, f *fixture, p *master.Patient) *export.Batch {
	t.Helper()
	f.confirmed(p, 471, emergency())
	return juneBatch(t, f)
}

func TestBuildExcel_Sheets(t *testing.T) {
	f := newFixture(t)
	f.confirmed(f.patient("P-001", "山田", "花子"), 471, emergency(), multiple())
	f.confirmed(f.patient("P-002", "鈴木", "一郎"), 942)

	var buf bytes.Buffer
	require.NoError(t, export.BuildExcel(&buf, juneBatch(t, f)))

	wb, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer wb.Close()

	title, err := wb.GetCellValue("Receipts", "A1")
	require.NoError(t, err)
	assert.Equal(t, "さくら訪問看護ステーション 202406 care", title)

	rows, err := wb.GetRows("Receipts")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 5)
	assert.Equal(t, "患者番号", rows[1][0])
	assert.Equal(t, []string{"P-001", "山田 花子", "19400401", "131011", "0000012345", "20231001", "10",
		"2", "471", "715", "0", "1186", "11860"}, rows[2])
	assert.Equal(t, "P-002", rows[3][0])
	assert.Equal(t, "合計", rows[4][0])

	formula, err := wb.GetCellFormula("Receipts", "L5")
	require.NoError(t, err)
	assert.Equal(t, "SUM(L3:L4)", formula)

	bonuses, err := wb.GetRows("Bonuses")
	require.NoError(t, err)
	require.Len(t, bonuses, 3)
	assert.Equal(t, []string{"P-001", "山田 花子", "emergency_visit", "緊急訪問加算", "1", "265"}, bonuses[1])
	assert.Equal(t, "multiple_visit", bonuses[2][2])
}

func TestBatch_Filename(t *testing.T) {
	f := newFixture(t)
	f.confirmed(f.patient("P-001", "山田", "花子"), 471)
	b := juneBatch(t, f)
	assert.Equal(t, "receipts_1312345678_202406_care.csv", b.Filename(export.FormatCSV))
	assert.Equal(t, "receipts_1312345678_202406_care.xlsx", b.Filename(export.FormatExcel))
}
