package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/mj1618/portal-pilot/internal/model"
)

// BatchResult reports how far a batch got.
type BatchResult struct {
	AllOK    bool `yaml:"all_ok"   json:"all_ok"`
	Executed int  `yaml:"executed" json:"executed"`
}

// ExecuteBatch runs actions in order against the same screen, pausing
// between actions but not after the last. It stops at the first failure;
// Executed counts the actions that succeeded before it.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, actions []model.AgentAction, screen *model.ParsedScreen) (BatchResult, error) {
	var res BatchResult
	for i, a := range actions {
		ok, err := d.Execute(ctx, a, screen)
		if err != nil {
			return res, err
		}
		if !ok {
			d.logger.Warn("batch stopped at failed action",
				zap.Int("index", i),
				zap.String("kind", string(a.Kind)),
				zap.Int("executed", res.Executed),
				zap.Int("total", len(actions)))
			return res, nil
		}
		res.Executed++
		if i < len(actions)-1 {
			if err := d.flag.Sleep(ctx, d.cfg.BatchPause); err != nil {
				return res, err
			}
		}
	}
	res.AllOK = true
	return res, nil
}
