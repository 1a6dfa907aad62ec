/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"math/rand/v2"
	"strconv"
)

// Layout is the reference canvas balls are placed on. Positions are stored
// normalized, so the same set scales to any client canvas.
type Layout struct {
	Width    float64
	Height   float64
	Radius   float64
	Attempts int
}

// GenerateBalls places up to count balls by rejection sampling. A candidate
// is rejected when its center is closer than (ri+rj)*2 to a placed ball; a
// ball that cannot be placed within Attempts tries is dropped, so fewer than
// count balls may come back.
func GenerateBalls(rng *rand.Rand, l Layout, count int, images []string) map[string]Ball {
	balls := make(map[string]Ball, count)
	if count <= 0 || l.Width <= 0 || l.Height <= 0 {
		return balls
	}

	attempts := max(l.Attempts, 1)
	minX, maxX := l.Radius, l.Width-l.Radius
	minY, maxY := l.Radius, l.Height-l.Radius
	if maxX < minX {
		minX, maxX = l.Width/2, l.Width/2
	}
	if maxY < minY {
		minY, maxY = l.Height/2, l.Height/2
	}

	type placed struct{ x, y, r float64 }
	var kept []placed

	for i := 0; i < count; i++ {
		for try := 0; try < attempts; try++ {
			x := minX + rng.Float64()*(maxX-minX)
			y := minY + rng.Float64()*(maxY-minY)

			ok := true
			for _, p := range kept {
				dx, dy := x-p.x, y-p.y
				gap := (l.Radius + p.r) * 2
				if dx*dx+dy*dy < gap*gap {
					ok = false
					break
				}
			}
			if !ok {
				continue
			}

			id := strconv.Itoa(len(kept))
			b := Ball{
				ID:     id,
				X:      x / l.Width,
				Y:      y / l.Height,
				Radius: l.Radius,
				Active: true,
			}
			if len(images) > 0 {
				b.ImageKey = images[len(kept)%len(images)]
			}

			balls[id] = b
			kept = append(kept, placed{x: x, y: y, r: l.Radius})
			break
		}
	}

	return balls
}
