package export_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/houmon/houmon/internal/domain/export"
	"github.com/houmon/houmon/internal/platform/auth"
)

func serve(t *testing.T, f *fixture, target string, facilities []string, roles ...string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	export.NewHandler(f.svc).RegisterRoutes(e.Group("/api/v1"))
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req = req.WithContext(auth.WithUser(context.Background(), "billing-1", roles, facilities))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) periodURL(query string) string {
	return "/api/v1/exports/receipts?facility_id=" + f.facility.ID.String() +
		"&year=2024&month=6&insurance_type=care" + query
}

func TestHandler_PeriodCSV(t *testing.T) {
	f := newFixture(t)
	f.confirmed(f.patient("P-001", "山田", "花子"), 471, emergency())
	fac := []string{f.facility.ID.String()}

	rec := serve(t, f, f.periodURL(""), fac, auth.RoleBilling)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv; charset=Shift_JIS", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, `attachment; filename="receipts_1312345678_202406_care.csv"`,
		rec.Header().Get(echo.HeaderContentDisposition))

	records := decodeCSV(t, rec.Body.Bytes())
	assert.Equal(t, "IR", records[0][0])
	assert.Equal(t, []string{"GO", "1", "736", "7360"}, records[len(records)-1])
}

func TestHandler_PeriodExcel(t *testing.T) {
	f := newFixture(t)
	f.confirmed(f.patient("P-001", "山田", "花子"), 471)

	rec := serve(t, f, f.periodURL("&format=xlsx"), []string{f.facility.ID.String()}, auth.RoleBilling)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), ".xlsx")

	wb, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer wb.Close()
	v, err := wb.GetCellValue("Receipts", "A3")
	require.NoError(t, err)
	assert.Equal(t, "P-001", v)
}

func TestHandler_PeriodNotReady(t *testing.T) {
	f := newFixture(t)
	r := f.confirmed(f.patient("P-001", "山田", "花子"), 471)
	r.IsConfirmed = false
	f.receipts.Put(r)

	rec := serve(t, f, f.periodURL(""), []string{f.facility.ID.String()}, auth.RoleBilling)
	require.Equal(t, http.StatusConflict, rec.Code)
	var body struct {
		Blocked []export.Blocked `json:"blocked"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Blocked, 1)
	assert.Equal(t, r.ID, body.Blocked[0].ReceiptID)
	assert.Equal(t, export.BlockedNotConfirmed, body.Blocked[0].Reason)
}

func TestHandler_PeriodErrors(t *testing.T) {
	f := newFixture(t)
	fac := []string{f.facility.ID.String()}

	cases := []struct {
		name   string
		target string
		want   int
	}{
		{"no receipts", f.periodURL(""), http.StatusNotFound},
		{"bad format", f.periodURL("&format=pdf"), http.StatusBadRequest},
		{"missing facility", "/api/v1/exports/receipts?year=2024&month=6&insurance_type=care", http.StatusBadRequest},
		{"bad month", "/api/v1/exports/receipts?facility_id=" + f.facility.ID.String() +
			"&year=2024&month=0&insurance_type=care", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, f, tc.target, fac, auth.RoleBilling)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandler_UnsupportedFormatBeforeLoading(t *testing.T) {
	f := newFixture(t)
	fac := []string{f.facility.ID.String()}
	r := f.confirmed(f.patient("P-001", "山田", "花子"), 471)
	r.IsConfirmed = false
	f.receipts.Put(r)

	// A blocked period would be 409 and an unknown id 404.
	for _, target := range []string{
		f.periodURL("&format=pdf"),
		"/api/v1/exports/receipts/" + r.ID.String() + "?format=pdf",
		"/api/v1/exports/receipts/" + uuid.NewString() + "?format=pdf",
	} {
		rec := serve(t, f, target, fac, auth.RoleBilling)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Contains(t, rec.Body.String(), "format must be csv or xlsx", target)
	}
}

func TestHandler_SingleReceipt(t *testing.T) {
	f := newFixture(t)
	r := f.confirmed(f.patient("P-001", "山田", "花子"), 471)
	fac := []string{f.facility.ID.String()}

	rec := serve(t, f, "/api/v1/exports/receipts/"+r.ID.String(), fac, auth.RoleBilling)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	records := decodeCSV(t, rec.Body.Bytes())
	assert.Equal(t, []string{"GO", "1", "471", "4710"}, records[len(records)-1])

	rec = serve(t, f, "/api/v1/exports/receipts/"+uuid.NewString(), fac, auth.RoleBilling)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, f, "/api/v1/exports/receipts/not-a-uuid", fac, auth.RoleBilling)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Access(t *testing.T) {
	f := newFixture(t)
	r := f.confirmed(f.patient("P-001", "山田", "花子"), 471)
	other := []string{uuid.NewString()}

	rec := serve(t, f, f.periodURL(""), other, auth.RoleBilling)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, f, "/api/v1/exports/receipts/"+r.ID.String(), other, auth.RoleBilling)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, f, f.periodURL(""), []string{f.facility.ID.String()}, auth.RoleNurse)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, f, f.periodURL(""), nil, auth.RoleAdmin)
	assert.Equal(t, http.StatusOK, rec.Code)
}
