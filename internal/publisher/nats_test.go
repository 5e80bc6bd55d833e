package publisher

import (
	"encoding/json"
	"testing"
	"time"

	"shuttle-tracker/internal/tracking"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		prefix, bus, want string
	}{
		{"shuttle", "S1/A", "shuttle.S1_A.state"},
		{"shuttle", " bus 7 ", "shuttle.bus_7.state"},
		{"campus.north", "a.b*>", "campus.north.a_b__.state"},
		{"", "S1/A", "S1_A.state"},
		{"shuttle", "", "shuttle._.state"},
	}
	for _, tt := range tests {
		if got := Subject(tt.prefix, tt.bus); got != tt.want {
			t.Errorf("Subject(%q, %q) = %q, want %q", tt.prefix, tt.bus, got, tt.want)
		}
	}
}

func TestNewEventMessage(t *testing.T) {
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	acc := 12.5
	ev := tracking.StateEvent{
		Kind:  tracking.EventArrived,
		BusID: "S1/A",
		State: tracking.BusState{
			BusID: "S1/A", StopIndex: 1, Lat: 17.495255, Lon: 78.340605,
			Status: tracking.StatusArrived, LocationSource: tracking.SourceDriver,
			LocationAccuracy: &acc, LastArrivalTime: &at,
		},
		Stop: tracking.Stop{ID: 2, Name: "Stop A", Sequence: 1},
		At:   at,
	}
	b, err := json.Marshal(NewEventMessage(ev))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got["kind"] != "arrived" || got["stopName"] != "Stop A" || got["source"] != "driver" || got["accuracy"] != 12.5 {
		t.Fatalf("message = %s", b)
	}
	if _, ok := got["lastDepartureTime"]; ok {
		t.Fatalf("nil departure time should be omitted: %s", b)
	}
}
