package game

import (
	"math/rand/v2"
	"testing"
)

func testLayout() Layout {
	return Layout{Width: 1280, Height: 720, Radius: 30, Attempts: 100}
}

func TestGenerateBalls_Spacing(t *testing.T) {
	l := testLayout()

	for seed := uint64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*7))
		balls := GenerateBalls(rng, l, 10, nil)

		if len(balls) == 0 || len(balls) > 10 {
			t.Fatalf("seed %d: got %d balls", seed, len(balls))
		}

		for id, a := range balls {
			if a.ID != id {
				t.Errorf("ball keyed %q has id %q", id, a.ID)
			}
			if !a.Active {
				t.Errorf("ball %s should start active", id)
			}
			if a.Radius != l.Radius {
				t.Errorf("ball %s radius %v, want %v", id, a.Radius, l.Radius)
			}

			ax, ay := a.X*l.Width, a.Y*l.Height
			if ax < l.Radius || ax > l.Width-l.Radius || ay < l.Radius || ay > l.Height-l.Radius {
				t.Errorf("ball %s at (%.1f, %.1f) is outside the canvas margin", id, ax, ay)
			}

			for otherID, b := range balls {
				if otherID == id {
					continue
				}
				bx, by := b.X*l.Width, b.Y*l.Height
				dx, dy := ax-bx, ay-by
				gap := (a.Radius + b.Radius) * 2
				if dx*dx+dy*dy < gap*gap-1e-6 {
					t.Errorf("seed %d: balls %s and %s overlap", seed, id, otherID)
				}
			}
		}
	}
}

func TestGenerateBalls_CrowdedCanvasDropsBalls(t *testing.T) {
	l := Layout{Width: 200, Height: 200, Radius: 30, Attempts: 50}
	rng := rand.New(rand.NewPCG(3, 4))

	balls := GenerateBalls(rng, l, 50, nil)
	if len(balls) >= 50 {
		t.Errorf("got %d balls on a canvas that cannot hold them", len(balls))
	}
	if len(balls) == 0 {
		t.Error("expected at least one ball")
	}
}

func TestGenerateBalls_Images(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	balls := GenerateBalls(rng, testLayout(), 4, []string{"red", "blue"})

	for id, b := range balls {
		if b.ImageKey != "red" && b.ImageKey != "blue" {
			t.Errorf("ball %s image %q", id, b.ImageKey)
		}
	}
}

func TestGenerateBalls_Empty(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	if n := len(GenerateBalls(rng, testLayout(), 0, nil)); n != 0 {
		t.Errorf("count 0 gave %d balls", n)
	}
	if n := len(GenerateBalls(rng, Layout{}, 5, nil)); n != 0 {
		t.Errorf("zero layout gave %d balls", n)
	}
}
