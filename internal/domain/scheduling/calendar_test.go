package scheduling

import "testing"

func TestGroupByDate(t *testing.T) {
	appts := []Appointment{
		{ID: "1", Date: "2024-05-01", Time: "09:00"},
		{ID: "2", Date: "2024-05-01", Time: "11:00"},
		{ID: "3", Date: "2024-05-03", Time: "08:00"},
		{ID: "4", Date: "2024-04-30", Time: "10:00"},
	}
	groups := GroupByDate(appts, "2024-05-01")
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	if groups[0].Date != "2024-04-30" || groups[1].Date != "2024-05-01" || groups[2].Date != "2024-05-03" {
		t.Errorf("dates not ascending: %+v", groups)
	}
	if !groups[1].Today || groups[0].Today {
		t.Error("only 2024-05-01 should be flagged today")
	}
	if len(groups[1].Appointments) != 2 || groups[1].Appointments[0].ID != "1" {
		t.Errorf("unexpected day contents: %+v", groups[1].Appointments)
	}
}

func TestGroupByDate_Empty(t *testing.T) {
	if groups := GroupByDate(nil, "2024-05-01"); len(groups) != 0 {
		t.Errorf("expected no groups, got %d", len(groups))
	}
}

func TestUpcoming(t *testing.T) {
	appts := []Appointment{
		{ID: "past", Date: "2024-04-01"},
		{ID: "today", Date: "2024-05-01"},
		{ID: "b", Date: "2024-05-02"},
		{ID: "c", Date: "2024-05-03"},
		{ID: "d", Date: "2024-05-04"},
	}
	got := Upcoming(appts, "2024-05-01", 3)
	if len(got) != 3 || got[0].ID != "today" || got[2].ID != "c" {
		t.Errorf("unexpected upcoming %+v", got)
	}
	if n := len(Upcoming(appts, "2024-05-01", 0)); n != 4 {
		t.Errorf("expected 4 uncapped, got %d", n)
	}
}
