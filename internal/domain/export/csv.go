package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/houmon/houmon/internal/domain/master"
)

// Record type markers, one per line kind.
const (
	recFacility = "IR"
	recReceipt  = "RE"
	recTotals   = "RT"
	recBonus    = "SI"
	recTrailer  = "GO"
)

// BuildCSV writes b as a Shift_JIS, CRLF-terminated CSV:
//
//	IR  facility and period header
//	RE  patient and insurance card, one per receipt
//	RT  point totals of the preceding RE
//	SI  one per bonus code of the preceding RE
//	GO  trailer with receipt count and totals
//
// It writes nothing when any receipt is unconfirmed or export-blocked.
// Characters outside Shift_JIS are an error, not silently replaced.
func BuildCSV(w io.Writer, b *Batch) error {
	if err := b.check(); err != nil {
		return err
	}

	enc := transform.NewWriter(w, japanese.ShiftJIS.NewEncoder())
	cw := csv.NewWriter(enc)
	cw.UseCRLF = true

	write := func(rec []string) error {
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("receipt csv: write %s record: %w", rec[0], err)
		}
		return nil
	}

	f := b.Facility
	if err := write([]string{recFacility, deref(f.InstitutionCode), deref(f.PrefectureCode),
		f.Name, b.period(), b.InsuranceType}); err != nil {
		return err
	}

	var points, amount int
	for i, row := range b.Rows {
		r, p := row.Receipt, row.Patient
		seq := strconv.Itoa(i + 1)
		if err := write(append([]string{recReceipt, seq, p.PatientNumber, p.FullName(), birthDate(p)},
			cardFields(row.Card)...,
		)); err != nil {
			return err
		}
		if err := write([]string{recTotals, seq,
			strconv.Itoa(r.VisitCount), strconv.Itoa(r.TotalVisitPoints), strconv.Itoa(r.TotalBonusPoints),
			strconv.Itoa(r.SpecialManagementPoints), strconv.Itoa(r.TotalPoints), strconv.Itoa(r.TotalAmount),
		}); err != nil {
			return err
		}
		for _, l := range r.BonusBreakdown {
			if err := write([]string{recBonus, seq, l.BonusCode, l.BonusName,
				strconv.Itoa(l.Count), strconv.Itoa(l.Points)}); err != nil {
				return err
			}
		}
		points += r.TotalPoints
		amount += r.TotalAmount
	}

	if err := write([]string{recTrailer, strconv.Itoa(len(b.Rows)), strconv.Itoa(points), strconv.Itoa(amount)}); err != nil {
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("receipt csv: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("receipt csv: encode Shift_JIS: %w", err)
	}
	return nil
}

func birthDate(p *master.Patient) string {
	if p.BirthDate == nil {
		return ""
	}
	return p.BirthDate.Format("20060102")
}

func cardFields(c *master.InsuranceCard) []string {
	if c == nil {
		return []string{"", "", "", ""}
	}
	cert, rate := "", ""
	if c.CertificationDate != nil {
		cert = c.CertificationDate.Format("20060102")
	}
	if c.CopaymentRate != nil {
		rate = strconv.Itoa(*c.CopaymentRate)
	}
	return []string{deref(c.InsurerNumber), deref(c.InsuredNumber), cert, rate}
}
