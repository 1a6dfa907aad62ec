package game

import "testing"

func TestPhaseFor(t *testing.T) {
	tests := []struct {
		name                                      string
		ready, joined, isOwner, started, finished bool
		want                                      Phase
	}{
		{"not ready", false, true, true, true, false, PhasePreloading},
		{"welcome", true, false, false, false, false, PhaseWelcome},
		{"waiting", true, true, false, false, false, PhaseWaitingForOwner},
		{"owner lobby", true, true, true, false, false, PhaseOwnerLobby},
		{"playing", true, true, false, true, false, PhasePlaying},
		{"finished", true, true, false, false, true, PhaseFinished},
		{"finished wins over welcome", true, false, false, false, true, PhaseFinished},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PhaseFor(tt.ready, tt.joined, tt.isOwner, tt.started, tt.finished)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestElectOwner(t *testing.T) {
	players := map[string]Player{"b": {}, "a": {}, "c": {}}

	if got := ElectOwner("c", players); got != "c" {
		t.Errorf("valid owner replaced with %q", got)
	}
	if got := ElectOwner("gone", players); got != "a" {
		t.Errorf("got %q, want lowest id a", got)
	}
	if got := ElectOwner("", players); got != "a" {
		t.Errorf("got %q, want a", got)
	}
	if got := ElectOwner("a", nil); got != "" {
		t.Errorf("empty room owner %q, want none", got)
	}
}

func TestScoreboard(t *testing.T) {
	board := Scoreboard(map[string]Player{
		"p1": {Name: "zed", Score: 2},
		"p2": {Name: "amy", Score: 2},
		"p3": {Name: "bob", Score: 5},
		"p4": {Name: "amy", Score: 2},
	})

	want := []string{"p3", "p2", "p4", "p1"}
	if len(board) != len(want) {
		t.Fatalf("len %d, want %d", len(board), len(want))
	}
	for i, id := range want {
		if board[i].PlayerID != id {
			t.Errorf("row %d is %q, want %q", i, board[i].PlayerID, id)
		}
	}
}

func TestIsFinished(t *testing.T) {
	if IsFinished(nil) {
		t.Error("no balls should not be finished")
	}
	if IsFinished(map[string]Ball{"0": {Active: true}, "1": {}}) {
		t.Error("active ball left, should not be finished")
	}
	if !IsFinished(map[string]Ball{"0": {}, "1": {}}) {
		t.Error("all popped should be finished")
	}
}
