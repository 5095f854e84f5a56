package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	sheetReceipts = "Receipts"
	sheetBonuses  = "Bonuses"
)

var receiptHeader = []string{
	"患者番号", "氏名", "生年月日", "保険者番号", "被保険者番号", "認定日", "負担割合",
	"訪問回数", "訪問点数", "加算点数", "特別管理加算", "合計点数", "請求額",
}

var bonusHeader = []string{"患者番号", "氏名", "加算コード", "加算名", "回数", "点数"}

// BuildExcel writes b as a workbook with one summary row per receipt, a
// totals row, and a second sheet listing the bonus breakdown. Like BuildCSV
// it refuses batches containing receipts that are not exportable.
func BuildExcel(w io.Writer, b *Batch) error {
	if err := b.check(); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetReceipts); err != nil {
		return fmt.Errorf("receipt workbook: %w", err)
	}
	if _, err := f.NewSheet(sheetBonuses); err != nil {
		return fmt.Errorf("receipt workbook: create sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("receipt workbook: header style: %w", err)
	}

	title := fmt.Sprintf("%s %s %s", b.Facility.Name, b.period(), b.InsuranceType)
	if err := f.SetCellValue(sheetReceipts, "A1", title); err != nil {
		return err
	}
	if err := writeHeader(f, sheetReceipts, 2, receiptHeader, headerStyle); err != nil {
		return err
	}
	if err := writeHeader(f, sheetBonuses, 1, bonusHeader, headerStyle); err != nil {
		return err
	}

	row, bonusRow := 3, 2
	for _, rr := range b.Rows {
		r, p := rr.Receipt, rr.Patient
		values := []interface{}{p.PatientNumber, p.FullName(), birthDate(p)}
		for _, v := range cardFields(rr.Card) {
			values = append(values, v)
		}
		values = append(values, r.VisitCount, r.TotalVisitPoints, r.TotalBonusPoints,
			r.SpecialManagementPoints, r.TotalPoints, r.TotalAmount)
		if err := setRow(f, sheetReceipts, row, values); err != nil {
			return err
		}
		row++

		for _, l := range r.BonusBreakdown {
			if err := setRow(f, sheetBonuses, bonusRow, []interface{}{
				p.PatientNumber, p.FullName(), l.BonusCode, l.BonusName, l.Count, l.Points,
			}); err != nil {
				return err
			}
			bonusRow++
		}
	}

	// Totals under the numeric columns (訪問回数 onwards).
	if err := f.SetCellValue(sheetReceipts, cell(1, row), "合計"); err != nil {
		return err
	}
	for col := 8; col <= len(receiptHeader); col++ {
		name, err := excelize.ColumnNumberToName(col)
		if err != nil {
			return err
		}
		formula := fmt.Sprintf("SUM(%s3:%s%d)", name, name, row-1)
		if err := f.SetCellFormula(sheetReceipts, cell(col, row), formula); err != nil {
			return fmt.Errorf("receipt workbook: totals: %w", err)
		}
	}

	for sheet, widths := range map[string][]float64{
		sheetReceipts: {12, 18, 12, 12, 16, 12, 10, 10, 10, 10, 12, 10, 12},
		sheetBonuses:  {12, 18, 28, 30, 8, 10},
	} {
		for i, wd := range widths {
			name, _ := excelize.ColumnNumberToName(i + 1)
			if err := f.SetColWidth(sheet, name, name, wd); err != nil {
				return err
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("receipt workbook: write: %w", err)
	}
	return nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func writeHeader(f *excelize.File, sheet string, row int, header []string, style int) error {
	values := make([]interface{}, len(header))
	for i, h := range header {
		values[i] = h
	}
	if err := setRow(f, sheet, row, values); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, cell(1, row), cell(len(header), row), style); err != nil {
		return fmt.Errorf("receipt workbook: header style: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	if err := f.SetSheetRow(sheet, cell(1, row), &values); err != nil {
		return fmt.Errorf("receipt workbook: %s row %d: %w", sheet, row, err)
	}
	return nil
}
