package visit

import (
	"bytes"
	"time"

	"github.com/google/uuid"

	"github.com/houmon/houmon/pkg/caldate"
)

// visitBefore orders a patient's visits: by visit date, then start time
// (visits without a start time after timed ones), then creation time, then
// id. Unsaved drafts have no creation time and sort after saved records.
func visitBefore(a, b *NursingRecord) bool {
	ad, bd := caldate.Normalize(a.VisitDate), caldate.Normalize(b.VisitDate)
	if !ad.Equal(bd) {
		return ad.Before(bd)
	}
	as, bs := a.ActualStartTime, b.ActualStartTime
	switch {
	case as != nil && bs != nil && !as.Equal(*bs):
		return as.Before(*bs)
	case as != nil && bs == nil:
		return true
	case as == nil && bs != nil:
		return false
	}
	ac, bc := createdOrNow(a), createdOrNow(b)
	if !ac.Equal(bc) {
		return ac.Before(bc)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

var farFuture = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

func createdOrNow(r *NursingRecord) time.Time {
	if r.CreatedAt.IsZero() {
		return farFuture
	}
	return r.CreatedAt
}

// Ordinal returns the 1-based position of r among r plus siblings. Siblings
// with r's id are ignored, so a saved record may be passed in both places.
func Ordinal(r *NursingRecord, siblings []*NursingRecord) int {
	n := 1
	for _, s := range siblings {
		if r.ID != uuid.Nil && s.ID == r.ID {
			continue
		}
		if visitBefore(s, r) {
			n++
		}
	}
	return n
}

// DailyOrdinal counts only siblings on r's visit date.
func DailyOrdinal(r *NursingRecord, siblings []*NursingRecord) int {
	same := make([]*NursingRecord, 0, len(siblings))
	for _, s := range siblings {
		if caldate.SameDay(s.VisitDate, r.VisitDate) {
			same = append(same, s)
		}
	}
	return Ordinal(r, same)
}
