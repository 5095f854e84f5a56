package receipt

import (
	"sort"

	"github.com/google/uuid"

	"github.com/houmon/houmon/internal/domain/bonus"
	"github.com/houmon/houmon/internal/domain/visit"
)

// ComputeTotals sums a patient's completed records for one month. Bonus
// points come from the history rows, which are authoritative; the applied
// bonus projection on each record is only checked against them by the
// validator.
func ComputeTotals(records []*visit.NursingRecord, history map[uuid.UUID][]*visit.HistoryEntry, buildingID *uuid.UUID, yenPerPoint int) Totals {
	t := Totals{VisitCount: len(records)}

	lines := map[string]*BonusLine{}
	for _, rec := range records {
		t.TotalVisitPoints += rec.BasePoints
		for _, h := range history[rec.ID] {
			l, ok := lines[h.BonusCode]
			if !ok {
				l = &BonusLine{BonusCode: h.BonusCode, BonusName: h.BonusName}
				lines[h.BonusCode] = l
			}
			l.Count++
			l.Points += h.CalculatedPoints
		}
	}

	t.BonusBreakdown = make([]BonusLine, 0, len(lines))
	for _, l := range lines {
		t.BonusBreakdown = append(t.BonusBreakdown, *l)
		t.TotalBonusPoints += l.Points
		if bonus.IsSpecialManagement(l.BonusCode) {
			t.SpecialManagementPoints += l.Points
		}
	}
	sort.Slice(t.BonusBreakdown, func(i, j int) bool {
		return t.BonusBreakdown[i].BonusCode < t.BonusBreakdown[j].BonusCode
	})

	t.TotalPoints = t.TotalVisitPoints + t.TotalBonusPoints
	t.TotalAmount = t.TotalPoints * yenPerPoint

	t.BuildingBreakdown = []BuildingLine{}
	if t.VisitCount > 0 {
		t.BuildingBreakdown = append(t.BuildingBreakdown, BuildingLine{
			BuildingID:  buildingID,
			VisitCount:  t.VisitCount,
			VisitPoints: t.TotalVisitPoints,
			BonusPoints: t.TotalBonusPoints,
		})
	}
	return t
}

// SameTotals reports whether two computations would produce the same claim.
func SameTotals(a, b Totals) bool {
	if a.VisitCount != b.VisitCount || a.TotalVisitPoints != b.TotalVisitPoints ||
		a.TotalBonusPoints != b.TotalBonusPoints || a.SpecialManagementPoints != b.SpecialManagementPoints ||
		a.TotalPoints != b.TotalPoints || a.TotalAmount != b.TotalAmount ||
		len(a.BonusBreakdown) != len(b.BonusBreakdown) {
		return false
	}
	for i := range a.BonusBreakdown {
		if a.BonusBreakdown[i] != b.BonusBreakdown[i] {
			return false
		}
	}
	return true
}
