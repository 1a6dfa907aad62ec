/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package archive keeps the final scoreboards of finished games.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/Seednode/popbox/game"
)

var ErrInvalidResult = errors.New("result has no room id")

type Result struct {
	RoomID     string       `json:"room_id"`
	FinishedAt time.Time    `json:"finished_at"`
	Scores     []game.Entry `json:"scores"`
}

type Archive interface {
	Record(ctx context.Context, r Result) error
	// Recent lists up to limit results for roomID, newest first.
	Recent(ctx context.Context, roomID string, limit int) ([]Result, error)
	Close()
}

func validate(r Result) error {
	if r.RoomID == "" {
		return ErrInvalidResult
	}
	return nil
}
