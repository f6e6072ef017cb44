// Package seed loads a small demo roster so a fresh install can run a class
// end to end.
package seed

import (
	"context"
	"fmt"
	"time"

	"qrattend/internal/attendance"
)

// Writer is implemented by both attendance stores.
type Writer interface {
	UpsertUser(ctx context.Context, u attendance.User) error
	UpsertTimeslot(ctx context.Context, t attendance.Timeslot) error
	CreateScheduledSession(ctx context.Context, s attendance.Session) error
}

// Cohort is the demo class.
var Cohort = attendance.Cohort{Year: "3", Branch: "CSE"}

const TeacherID = "teacher-1"

// Result lists what Demo wrote.
type Result struct {
	Users     int
	Timeslots int
	Scheduled int
}

// Demo writes one teacher, three students and an all-day slot for every
// weekday, plus a SCHEDULED class for the day after now. It is safe to run
// repeatedly.
func Demo(ctx context.Context, w Writer, now time.Time, loc *time.Location) (Result, error) {
	var res Result
	users := []attendance.User{
		{ID: TeacherID, Name: "Dr. Meera Rao", Role: attendance.RoleTeacher},
		{ID: "student-1", Name: "Asha Verma", Role: attendance.RoleStudent, Cohort: Cohort},
		{ID: "student-2", Name: "Bilal Khan", Role: attendance.RoleStudent, Cohort: Cohort},
		{ID: "student-3", Name: "Chen Li", Role: attendance.RoleStudent, Cohort: Cohort},
	}
	for _, u := range users {
		if err := w.UpsertUser(ctx, u); err != nil {
			return res, fmt.Errorf("seed user %s: %w", u.ID, err)
		}
		res.Users++
	}

	for day := 0; day < 7; day++ {
		slot := attendance.Timeslot{
			ID:        SlotID(time.Weekday(day)),
			Cohort:    Cohort,
			DayOfWeek: day,
			StartTime: "00:00",
			EndTime:   "23:59",
		}
		if err := w.UpsertTimeslot(ctx, slot); err != nil {
			return res, fmt.Errorf("seed timeslot %s: %w", slot.ID, err)
		}
		res.Timeslots++
	}

	local := now.In(loc)
	tomorrow := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, time.UTC)
	planned := attendance.Session{
		TeacherID:  TeacherID,
		Subject:    "Operating Systems",
		Cohort:     Cohort,
		TimeslotID: SlotID(tomorrow.Weekday()),
		Date:       tomorrow,
	}
	if err := w.CreateScheduledSession(ctx, planned); err != nil {
		return res, fmt.Errorf("seed scheduled session: %w", err)
	}
	res.Scheduled++
	return res, nil
}

// SlotID names the demo slot for a weekday.
func SlotID(d time.Weekday) string {
	return fmt.Sprintf("demo-%d", int(d))
}
