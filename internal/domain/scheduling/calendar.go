package scheduling

import (
	"sort"
)

// DayGroup is one date on the calendar.
type DayGroup struct {
	Date         string        `json:"date"`
	Today        bool          `json:"today"`
	Appointments []Appointment `json:"appointments"`
}

// GroupByDate buckets appointments by date, dates ascending. Within a day
// the input order is kept.
func GroupByDate(appts []Appointment, today string) []DayGroup {
	index := make(map[string]int)
	var groups []DayGroup
	for _, a := range appts {
		i, ok := index[a.Date]
		if !ok {
			i = len(groups)
			index[a.Date] = i
			groups = append(groups, DayGroup{Date: a.Date, Today: a.Date == today})
		}
		groups[i].Appointments = append(groups[i].Appointments, a)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Date < groups[j].Date })
	return groups
}

// Upcoming returns appointments dated today or later in input order, at
// most limit of them. A limit <= 0 means no cap.
func Upcoming(appts []Appointment, today string, limit int) []Appointment {
	var out []Appointment
	for _, a := range appts {
		if a.Date < today {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
