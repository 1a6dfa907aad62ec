/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

// Pose landmark indices for the wrists, pinkies, index fingers and thumbs.
const (
	firstHandKeypoint = 15
	lastHandKeypoint  = 22
)

// Policy decides how keypoints are compared with balls.
type Policy struct {
	// Scale multiplies the ball radius to get the hit radius.
	Scale float64
	// Mirror flips keypoint x for a selfie-view camera.
	Mirror bool
}

func DefaultPolicy() Policy {
	return Policy{Scale: 2, Mirror: true}
}

// HandKeypoints keeps only the hand landmarks of a full-body pose.
func HandKeypoints(all []Keypoint) []Keypoint {
	if len(all) <= firstHandKeypoint {
		return nil
	}

	end := min(len(all), lastHandKeypoint+1)
	hands := make([]Keypoint, end-firstHandKeypoint)
	copy(hands, all[firstHandKeypoint:end])

	return hands
}

// KeypointPixel converts a keypoint to canvas pixels.
func (p Policy) KeypointPixel(k Keypoint, canvas Size) (float64, float64) {
	x := k.X
	if p.Mirror {
		x = 1 - x
	}
	return x * canvas.Width, k.Y * canvas.Height
}

// BallPixel converts a ball center to canvas pixels.
func BallPixel(b Ball, canvas Size) (float64, float64) {
	return b.X * canvas.Width, b.Y * canvas.Height
}

// HitTest returns the ids of active balls touched by any keypoint, each at
// most once, in the order they were first hit.
func HitTest(keypoints []Keypoint, balls map[string]Ball, canvas Size, p Policy) []string {
	var hits []string
	seen := make(map[string]bool)
	ids := sortedBallIDs(balls)

	for _, k := range keypoints {
		kx, ky := p.KeypointPixel(k, canvas)

		for _, id := range ids {
			b := balls[id]
			if !b.Active || seen[id] {
				continue
			}

			bx, by := BallPixel(b, canvas)
			dx, dy := kx-bx, ky-by
			r := b.Radius * p.Scale

			if dx*dx+dy*dy < r*r {
				seen[id] = true
				hits = append(hits, id)
			}
		}
	}

	return hits
}
