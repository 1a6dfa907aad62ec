/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

const (
	OpClear    = "clear"
	OpVideo    = "video"
	OpKeypoint = "keypoint"
	OpBall     = "ball"
	OpOverlay  = "overlay"

	keypointRadius = 5
	keypointColor  = "red"
	spriteScale    = 3
	defaultSprite  = "balloon"
	overlayImage   = "frame"
)

// DrawOp is one canvas drawing instruction.
type DrawOp struct {
	Kind     string  `json:"kind"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	W        float64 `json:"w,omitempty"`
	H        float64 `json:"h,omitempty"`
	Radius   float64 `json:"radius,omitempty"`
	Image    string  `json:"image,omitempty"`
	Color    string  `json:"color,omitempty"`
	Mirrored bool    `json:"mirrored,omitempty"`
	BallID   string  `json:"ball_id,omitempty"`
}

// Frame is everything a client draws for one animation tick.
type Frame struct {
	Width  float64  `json:"width"`
	Height float64  `json:"height"`
	Ops    []DrawOp `json:"ops"`
	Popups []Effect `json:"popups"`
}

// Render builds the draw list for the given mirrors. It reads only its
// arguments, so it can run every tick regardless of store connectivity.
func Render(balls map[string]Ball, keypoints []Keypoint, canvas Size, p Policy, popups []Effect) Frame {
	f := Frame{
		Width:  canvas.Width,
		Height: canvas.Height,
		Ops:    make([]DrawOp, 0, 3+len(keypoints)+len(balls)),
		Popups: popups,
	}
	if f.Popups == nil {
		f.Popups = []Effect{}
	}

	f.Ops = append(f.Ops,
		DrawOp{Kind: OpClear, W: canvas.Width, H: canvas.Height},
		DrawOp{Kind: OpVideo, W: canvas.Width, H: canvas.Height, Mirrored: p.Mirror},
	)

	for _, k := range keypoints {
		x, y := p.KeypointPixel(k, canvas)
		f.Ops = append(f.Ops, DrawOp{Kind: OpKeypoint, X: x, Y: y, Radius: keypointRadius, Color: keypointColor})
	}

	for _, id := range sortedBallIDs(balls) {
		b := balls[id]
		if !b.Active {
			continue
		}

		x, y := BallPixel(b, canvas)
		img := b.ImageKey
		if img == "" {
			img = defaultSprite
		}

		f.Ops = append(f.Ops, DrawOp{
			Kind:   OpBall,
			X:      x - b.Radius,
			Y:      y - b.Radius,
			W:      b.Radius * spriteScale,
			H:      b.Radius * spriteScale,
			Image:  img,
			BallID: id,
		})
	}

	f.Ops = append(f.Ops, DrawOp{Kind: OpOverlay, W: canvas.Width, H: canvas.Height, Image: overlayImage})

	return f
}
