// Package dispatch maps agent actions onto simulated mouse and keyboard
// input.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/mj1618/portal-pilot/internal/halt"
	"github.com/mj1618/portal-pilot/internal/metrics"
	"github.com/mj1618/portal-pilot/internal/model"
	"github.com/mj1618/portal-pilot/internal/platform"
)

// Config holds settle delays and text entry options.
type Config struct {
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	MoveSettle      time.Duration `mapstructure:"move_settle"`
	PasteSettle     time.Duration `mapstructure:"paste_settle"`
	BatchPause      time.Duration `mapstructure:"batch_pause"`
	PasteModifier   string        `mapstructure:"paste_modifier"`
	ClipboardTyping bool          `mapstructure:"clipboard_typing"`
	// ForceCharKeys lists keys always sent as text instead of key events.
	ForceCharKeys []string `mapstructure:"force_char_keys"`
	TypeDelayMs   int      `mapstructure:"type_delay_ms"`
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		SettleDelay:     500 * time.Millisecond,
		MoveSettle:      100 * time.Millisecond,
		PasteSettle:     300 * time.Millisecond,
		BatchPause:      300 * time.Millisecond,
		PasteModifier:   "ctrl",
		ClipboardTyping: true,
	}
}

// Dispatcher executes actions one at a time.
type Dispatcher struct {
	input   platform.Inputter
	clip    platform.ClipboardManager
	flag    *halt.Flag
	cfg     Config
	force   map[string]bool
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New returns a dispatcher. clip may be nil, in which case text is typed
// key by key.
func New(input platform.Inputter, clip platform.ClipboardManager, flag *halt.Flag, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if flag == nil {
		flag = halt.New(0)
	}
	if cfg.PasteModifier == "" {
		cfg.PasteModifier = "ctrl"
	}
	force := make(map[string]bool, len(cfg.ForceCharKeys))
	for _, k := range cfg.ForceCharKeys {
		force[NormalizeKey(k)] = true
	}
	return &Dispatcher{
		input:   input,
		clip:    clip,
		flag:    flag,
		cfg:     cfg,
		force:   force,
		logger:  logger.Named("dispatch"),
		metrics: m,
	}
}

// Execute performs a, resolving element references against screen. A
// reference to another screen or to a missing element, an input failure or
// a panic all yield ok=false. err is non-nil only for cancellation.
func (d *Dispatcher) Execute(ctx context.Context, a model.AgentAction, screen *model.ParsedScreen) (ok bool, err error) {
	if err := d.checkStop(ctx); err != nil {
		return false, err
	}

	ok, err = d.perform(ctx, a, screen)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "stopped"
	case !ok:
		outcome = "failed"
	}
	d.metrics.Actions.WithLabelValues(string(a.Kind), outcome).Inc()
	if err != nil || !ok {
		return false, err
	}

	if err := d.flag.Sleep(ctx, d.cfg.SettleDelay); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Dispatcher) checkStop(ctx context.Context) error {
	if err := d.flag.Check(); err != nil {
		return err
	}
	return ctx.Err()
}

func (d *Dispatcher) perform(ctx context.Context, a model.AgentAction, screen *model.ParsedScreen) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("action panicked",
				zap.String("kind", string(a.Kind)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			ok, err = false, nil
		}
	}()

	log := d.logger.With(zap.String("kind", string(a.Kind)))
	fail := func(msg string, e error) (bool, error) {
		log.Warn(msg, zap.Error(e))
		return false, nil
	}

	switch a.Kind {
	case model.ActionClick, model.ActionDoubleClick:
		pt, found := d.resolve(a, screen)
		if !found {
			return false, nil
		}
		if err := d.moveAndSettle(ctx, pt); err != nil {
			return d.inputOrStop(log, "move failed", err)
		}
		count := 1
		if a.Kind == model.ActionDoubleClick {
			count = 2
		}
		if err := d.input.Click(pt.X, pt.Y, platform.MouseLeft, count); err != nil {
			return fail("click failed", err)
		}
		return true, nil

	case model.ActionDrag:
		start, found := d.resolve(a, screen)
		if !found {
			return false, nil
		}
		return d.drag(ctx, log, start, *a.EndCoords)

	case model.ActionType:
		if a.Target != nil || a.Coords != nil {
			pt, found := d.resolve(a, screen)
			if !found {
				return false, nil
			}
			if err := d.moveAndSettle(ctx, pt); err != nil {
				return d.inputOrStop(log, "move failed", err)
			}
			if err := d.input.Click(pt.X, pt.Y, platform.MouseLeft, 1); err != nil {
				return fail("focus click failed", err)
			}
		}
		return d.typeText(ctx, log, a.Text)

	case model.ActionKey:
		return d.pressKey(log, a.Key)

	case model.ActionHotkey:
		keys := NormalizeChord(a.Keys)
		if len(keys) == 0 {
			return false, nil
		}
		if err := d.input.KeyCombo(keys); err != nil {
			return fail("hotkey failed", err)
		}
		return true, nil

	case model.ActionScroll:
		return d.scroll(log, a, screen)

	case model.ActionWait:
		if err := d.flag.Sleep(ctx, a.Duration); err != nil {
			return false, err
		}
		return true, nil

	case model.ActionScreenshot, model.ActionFinish:
		return true, nil

	default:
		log.Warn("unsupported action")
		return false, nil
	}
}

// resolve returns the point an action targets: the center of its element
// reference, or its explicit coordinates.
func (d *Dispatcher) resolve(a model.AgentAction, screen *model.ParsedScreen) (model.Point, bool) {
	if a.Target != nil {
		el, ok := screen.Resolve(*a.Target)
		if !ok {
			screenID := ""
			if screen != nil {
				screenID = screen.ID
			}
			d.logger.Warn("element not found on current screen",
				zap.String("kind", string(a.Kind)),
				zap.Int("target_id", a.Target.ElementID),
				zap.String("ref_screen", a.Target.ScreenID),
				zap.String("current_screen", screenID))
			return model.Point{}, false
		}
		return el.Center, true
	}
	if a.Coords != nil {
		return *a.Coords, true
	}
	d.logger.Warn("action has neither target nor coords", zap.String("kind", string(a.Kind)))
	return model.Point{}, false
}

func (d *Dispatcher) moveAndSettle(ctx context.Context, pt model.Point) error {
	if err := d.input.MoveMouse(pt.X, pt.Y); err != nil {
		return err
	}
	return d.flag.Sleep(ctx, d.cfg.MoveSettle)
}

// inputOrStop separates cancellation from input failures.
func (d *Dispatcher) inputOrStop(log *zap.Logger, msg string, err error) (bool, error) {
	if halt.IsStop(err) || errors.Is(err, context.DeadlineExceeded) {
		return false, err
	}
	log.Warn(msg, zap.Error(err))
	return false, nil
}

func (d *Dispatcher) drag(ctx context.Context, log *zap.Logger, from, to model.Point) (bool, error) {
	if err := d.moveAndSettle(ctx, from); err != nil {
		return d.inputOrStop(log, "move failed", err)
	}
	if err := d.input.MouseDown(from.X, from.Y, platform.MouseLeft); err != nil {
		return d.inputOrStop(log, "mouse down failed", err)
	}
	release := func() {
		if err := d.input.MouseUp(to.X, to.Y, platform.MouseLeft); err != nil {
			log.Warn("mouse up failed", zap.Error(err))
		}
	}
	if err := d.input.MoveMouse(to.X, to.Y); err != nil {
		release()
		return d.inputOrStop(log, "drag move failed", err)
	}
	if err := d.flag.Sleep(ctx, d.cfg.MoveSettle); err != nil {
		release()
		return false, err
	}
	if err := d.input.MouseUp(to.X, to.Y, platform.MouseLeft); err != nil {
		return d.inputOrStop(log, "mouse up failed", err)
	}
	return true, nil
}

// typeText enters text through the clipboard: select all, clear, copy,
// paste. Without a clipboard it falls back to key-by-key typing.
func (d *Dispatcher) typeText(ctx context.Context, log *zap.Logger, text string) (bool, error) {
	if d.clip == nil || !d.cfg.ClipboardTyping {
		if err := d.input.TypeText(text, d.cfg.TypeDelayMs); err != nil {
			return d.inputOrStop(log, "type failed", err)
		}
		return true, nil
	}

	mod := NormalizeKey(d.cfg.PasteModifier)
	steps := []struct {
		name string
		run  func() error
	}{
		{"select all", func() error { return d.input.KeyCombo([]string{mod, "a"}) }},
		{"clear", func() error { return d.input.KeyPress("delete") }},
		{"copy", func() error { return d.clip.SetText(text) }},
	}
	for _, s := range steps {
		if err := s.run(); err != nil {
			return d.inputOrStop(log, fmt.Sprintf("type: %s failed", s.name), err)
		}
	}
	if err := d.flag.Sleep(ctx, d.cfg.PasteSettle); err != nil {
		return false, err
	}
	if err := d.input.KeyCombo([]string{mod, "v"}); err != nil {
		return d.inputOrStop(log, "type: paste failed", err)
	}
	if err := d.flag.Sleep(ctx, d.cfg.PasteSettle); err != nil {
		return false, err
	}
	return true, nil
}

// pressKey sends a named key, falling back to its character equivalent
// when the key path rejects it or the key is configured to be typed.
func (d *Dispatcher) pressKey(log *zap.Logger, key string) (bool, error) {
	k := NormalizeKey(key)
	if k == "" {
		return false, nil
	}
	char, hasChar := charFallback[k]
	if hasChar && d.force[k] {
		if err := d.input.TypeText(char, 0); err != nil {
			return d.inputOrStop(log, "key fallback failed", err)
		}
		return true, nil
	}
	err := d.input.KeyPress(k)
	if err == nil {
		return true, nil
	}
	if !hasChar {
		return d.inputOrStop(log, "key press failed", err)
	}
	log.Debug("key press rejected, typing character instead", zap.String("key", k), zap.Error(err))
	if err := d.input.TypeText(char, 0); err != nil {
		return d.inputOrStop(log, "key fallback failed", err)
	}
	return true, nil
}

func (d *Dispatcher) scroll(log *zap.Logger, a model.AgentAction, screen *model.ParsedScreen) (bool, error) {
	var pt model.Point
	if a.Target != nil || a.Coords != nil {
		var found bool
		if pt, found = d.resolve(a, screen); !found {
			return false, nil
		}
	} else if screen != nil && screen.ScreenSize.Valid() {
		pt = model.Point{X: screen.ScreenSize.Width / 2, Y: screen.ScreenSize.Height / 2}
	}

	amount := a.ScrollAmount
	if amount < 1 {
		amount = model.DefaultScrollAmount
	}
	var dx, dy int
	switch a.Direction {
	case model.ScrollUp:
		dy = amount
	case model.ScrollDown:
		dy = -amount
	case model.ScrollLeft:
		dx = amount
	case model.ScrollRight:
		dx = -amount
	default:
		log.Warn("unknown scroll direction", zap.String("direction", string(a.Direction)))
		return false, nil
	}
	if err := d.input.Scroll(pt.X, pt.Y, dx, dy); err != nil {
		return d.inputOrStop(log, "scroll failed", err)
	}
	return true, nil
}
