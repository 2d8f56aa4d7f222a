package wait

import (
	"context"

	"go.uber.org/zap"
)

// Dismisser clears known modals outside of any explicit wait.
type Dismisser struct {
	w *Waiter
}

// NewDismisser shares w's locator, logger and metrics.
func NewDismisser(w *Waiter) *Dismisser {
	return &Dismisser{w: w}
}

// DismissOnce locates obstacles once and handles the first one found. It
// returns the handled obstacle's name, or "" when the screen was clear.
func (d *Dismisser) DismissOnce(ctx context.Context, obstacles []Obstacle) (string, error) {
	if len(obstacles) == 0 {
		return "", nil
	}
	found, err := d.w.locate(ctx, signatures(nil, obstacles))
	if err != nil {
		return "", err
	}
	for i, o := range obstacles {
		if found[i] == nil {
			continue
		}
		name := o.Signature.String()
		d.w.metrics.Obstacles.WithLabelValues(name).Inc()
		if err := o.Handle(ctx, *found[i]); err != nil {
			d.w.logger.Warn("modal watcher handler failed", zap.String("obstacle", name), zap.Error(err))
			return name, err
		}
		d.w.logger.Info("modal watcher dismissed obstacle", zap.String("obstacle", name))
		return name, nil
	}
	return "", nil
}
