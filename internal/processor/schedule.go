package processor

import "time"

// Slot is what a schedule id stands for: a center, specialty and medic at a
// given time.
type Slot struct {
	CenterID        int
	SpecialtyID     int
	MedicID         int
	AppointmentDate time.Time
}

const firstHour = 8

// DecomposeSchedule derives a slot from the digits of scheduleID. The same id
// and booking day always give the same slot.
//
//	medic     = id % 100 + 1
//	specialty = (id / 100) % 100 + 1
//	center    = (id / 10000) % 100 + 1
//	date      = booking day + (1 + id % 30) days, at 08:00 + (id / 10) % 10 hours
func DecomposeSchedule(scheduleID int64, bookedAt time.Time, loc *time.Location) Slot {
	local := bookedAt.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	offsetDays := int(1 + scheduleID%30)
	hour := firstHour + int((scheduleID/10)%10)

	return Slot{
		CenterID:        int((scheduleID/10000)%100) + 1,
		SpecialtyID:     int((scheduleID/100)%100) + 1,
		MedicID:         int(scheduleID%100) + 1,
		AppointmentDate: day.AddDate(0, 0, offsetDays).Add(time.Duration(hour) * time.Hour),
	}
}
