// Package export turns confirmed monthly receipts into the files sent to
// insurers: a Shift_JIS CSV and an Excel workbook for review.
package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/houmon/houmon/internal/domain/master"
	"github.com/houmon/houmon/internal/domain/receipt"
)

var (
	ErrNotExportable = errors.New("receipt is not ready for export")
	ErrNoReceipts    = errors.New("no receipts in period")
)

const (
	FormatCSV   = "csv"
	FormatExcel = "xlsx"
)

// Reasons a receipt blocks an export.
const (
	BlockedNotConfirmed = "not_confirmed"
	BlockedCSVErrors    = "csv_errors"
)

// Row is one receipt with the master data printed next to it.
type Row struct {
	Receipt *receipt.Receipt
	Patient *master.Patient
	Card    *master.InsuranceCard
}

// Batch is the unit written to one file: the receipts of a facility for a
// month and insurance type.
type Batch struct {
	Facility      *master.Facility
	Year          int
	Month         int
	InsuranceType string
	Rows          []Row
}

type Blocked struct {
	ReceiptID uuid.UUID         `json:"receipt_id"`
	PatientID uuid.UUID         `json:"patient_id"`
	Reason    string            `json:"reason"`
	Errors    []receipt.Message `json:"errors,omitempty"`
}

// NotReadyError lists the receipts that prevent an export.
type NotReadyError struct {
	Blocked []Blocked
}

func (e *NotReadyError) Error() string {
	ids := make([]string, 0, len(e.Blocked))
	for _, b := range e.Blocked {
		ids = append(ids, fmt.Sprintf("%s (%s)", b.ReceiptID, b.Reason))
	}
	return "export blocked by " + strings.Join(ids, ", ")
}

func (e *NotReadyError) Unwrap() error { return ErrNotExportable }

// Ready reports why r cannot be exported, or "" when it can. Only confirmed
// receipts whose master data passed the export check qualify.
func Ready(r *receipt.Receipt) string {
	switch {
	case !r.IsConfirmed:
		return BlockedNotConfirmed
	case !r.CanExportCSV:
		return BlockedCSVErrors
	}
	return ""
}

// check refuses the whole batch when any receipt is not exportable.
func (b *Batch) check() error {
	var blocked []Blocked
	for _, row := range b.Rows {
		if reason := Ready(row.Receipt); reason != "" {
			blocked = append(blocked, Blocked{
				ReceiptID: row.Receipt.ID,
				PatientID: row.Receipt.PatientID,
				Reason:    reason,
				Errors:    row.Receipt.CSVExportErrors,
			})
		}
	}
	if len(blocked) > 0 {
		return &NotReadyError{Blocked: blocked}
	}
	if len(b.Rows) == 0 {
		return ErrNoReceipts
	}
	return nil
}

// Filename is the download name of the batch in format.
func (b *Batch) Filename(format string) string {
	code := "unknown"
	if b.Facility != nil && b.Facility.InstitutionCode != nil && *b.Facility.InstitutionCode != "" {
		code = *b.Facility.InstitutionCode
	}
	return fmt.Sprintf("receipts_%s_%04d%02d_%s.%s", code, b.Year, b.Month, b.InsuranceType, format)
}

func (b *Batch) period() string { return fmt.Sprintf("%04d%02d", b.Year, b.Month) }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
