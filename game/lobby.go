/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import "sort"

type Phase string

const (
	PhasePreloading      Phase = "preloading"
	PhaseWelcome         Phase = "welcome"
	PhaseWaitingForOwner Phase = "waiting_for_owner"
	PhaseOwnerLobby      Phase = "owner_lobby"
	PhasePlaying         Phase = "playing"
	PhaseFinished        Phase = "finished"
)

// PhaseFor derives which overlay a participant should see.
func PhaseFor(ready, joined, isOwner, started, finished bool) Phase {
	switch {
	case !ready:
		return PhasePreloading
	case finished:
		return PhaseFinished
	case !joined:
		return PhaseWelcome
	case started:
		return PhasePlaying
	case isOwner:
		return PhaseOwnerLobby
	default:
		return PhaseWaitingForOwner
	}
}

// ElectOwner keeps current when it still belongs to a player, otherwise
// picks the lowest remaining player id. An empty room has no owner.
func ElectOwner(current string, players map[string]Player) string {
	if _, ok := players[current]; ok {
		return current
	}
	if len(players) == 0 {
		return ""
	}

	ids := make([]string, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids[0]
}

func samePlayerSet(a, b map[string]Player) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}
