package terminal

import (
	"github.com/quira/zkbridge/internal/domain"
	"github.com/quira/zkbridge/pkg/zk"
)

// GetAttendanceLogs returns the punches inside r. The vendor reads return
// the whole log, so the range is applied here.
func (t *Terminal) GetAttendanceLogs(r domain.DateRange) []domain.AttendanceLogEntry {
	records, _, err := firstSuccess(t, "attendance", []strategy[[]*zk.Attendance]{
		{"buffered_read", t.driver.GetAttendances},
		{"direct_read", t.driver.ReadAttendances},
		{"disabled_buffered_read", func() ([]*zk.Attendance, error) {
			return whileDisabled(t, t.driver.GetAttendances)
		}},
	})
	if err != nil {
		return []domain.AttendanceLogEntry{}
	}

	logs := make([]domain.AttendanceLogEntry, 0, len(records))
	for _, a := range records {
		if a == nil || !r.Contains(a.AttendedAt) {
			continue
		}
		logs = append(logs, toAttendanceEntry(a))
	}
	return logs
}

func toAttendanceEntry(a *zk.Attendance) domain.AttendanceLogEntry {
	return domain.AttendanceLogEntry{
		UID:          a.UID,
		UserID:       a.UserID,
		Timestamp:    a.AttendedAt,
		Punch:        int(a.AttState),
		VerifyMethod: int(a.VerifyMethod),
		Status:       int(a.AttState),
	}
}
