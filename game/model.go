/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package game holds the balloon-popping rules: ball placement, hand
// hit-testing, owner election, and the per-participant reconciler that keeps
// local mirrors of a shared room in step with the room store.
package game

import (
	"errors"
	"sort"
	"strconv"
)

var (
	ErrAlreadyStarted = errors.New("game already started")
	ErrNotJoined      = errors.New("player has not joined the room")
	ErrNotOwner       = errors.New("only the room owner can do that")
	ErrOwnerPresent   = errors.New("room already has an owner")
)

type Player struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Ball positions are normalized to [0,1] on both axes; Radius is in pixels.
type Ball struct {
	ID           string  `json:"id"`
	X            float64 `json:"relativeX"`
	Y            float64 `json:"relativeY"`
	Radius       float64 `json:"radius"`
	Active       bool    `json:"active"`
	ImageKey     string  `json:"imageKey,omitempty"`
	WasActivated bool    `json:"wasActivated,omitempty"`
}

type Room struct {
	OwnerID   string            `json:"ownerId,omitempty"`
	IsStarted bool              `json:"isStarted"`
	Players   map[string]Player `json:"players,omitempty"`
	Balls     map[string]Ball   `json:"balls,omitempty"`
}

// Keypoint is one pose landmark in normalized coordinates.
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// Size is a canvas size in pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsFinished reports whether at least one ball exists and every ball has
// been popped.
func IsFinished(balls map[string]Ball) bool {
	if len(balls) == 0 {
		return false
	}
	for _, b := range balls {
		if b.Active {
			return false
		}
	}
	return true
}

func anyActive(balls map[string]Ball) bool {
	for _, b := range balls {
		if b.Active {
			return true
		}
	}
	return false
}

// sortedBallIDs orders ids numerically when they are numbers.
func sortedBallIDs(balls map[string]Ball) []string {
	ids := make([]string, 0, len(balls))
	for id := range balls {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Entry is one scoreboard row.
type Entry struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}

// Scoreboard ranks players by score, then name, then id.
func Scoreboard(players map[string]Player) []Entry {
	entries := make([]Entry, 0, len(players))
	for id, p := range players {
		entries = append(entries, Entry{PlayerID: id, Name: p.Name, Score: p.Score})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.PlayerID < b.PlayerID
	})
	return entries
}
