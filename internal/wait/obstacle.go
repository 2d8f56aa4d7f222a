package wait

import (
	"context"

	"github.com/mj1618/portal-pilot/internal/model"
	"github.com/mj1618/portal-pilot/internal/platform"
)

// Handler dismisses an obstacle found at at.
type Handler func(ctx context.Context, at model.Point) error

// Obstacle is an unexpected UI element, typically a modal, and how to get
// rid of it.
type Obstacle struct {
	Signature Signature
	Handle    Handler
}

// ClickObstacle dismisses sig by clicking where it was found.
func ClickObstacle(sig Signature, in platform.Inputter) Obstacle {
	return Obstacle{
		Signature: sig,
		Handle: func(_ context.Context, at model.Point) error {
			return in.Click(at.X, at.Y, platform.MouseLeft, 1)
		},
	}
}

// KeyObstacle dismisses sig by pressing key.
func KeyObstacle(sig Signature, in platform.Inputter, key string) Obstacle {
	return Obstacle{
		Signature: sig,
		Handle: func(context.Context, model.Point) error {
			return in.KeyPress(key)
		},
	}
}

func signatures(target *Signature, obstacles []Obstacle) []Signature {
	sigs := make([]Signature, 0, len(obstacles)+1)
	if target != nil {
		sigs = append(sigs, *target)
	}
	for _, o := range obstacles {
		sigs = append(sigs, o.Signature)
	}
	return sigs
}
