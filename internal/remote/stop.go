// Package remote carries stop requests between processes over redis
// pub/sub, so an operator can halt a run on another machine.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mj1618/portal-pilot/internal/halt"
)

// ErrClosed is returned when the subscription channel closes while the
// listener is still wanted.
var ErrClosed = errors.New("stop subscription closed")

// Listener raises the stop flag for every message on a channel.
type Listener struct {
	rdb     redis.UniversalClient
	channel string
	flag    *halt.Flag
	logger  *zap.Logger
}

// NewListener returns a listener for channel.
func NewListener(rdb redis.UniversalClient, channel string, flag *halt.Flag, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{rdb: rdb, channel: channel, flag: flag, logger: logger.Named("remote")}
}

// Listen blocks until ctx is done. It returns an error when the
// subscription cannot be made or is lost, so a supervisor can resubscribe.
func (l *Listener) Listen(ctx context.Context) error {
	pubsub := l.rdb.Subscribe(ctx, l.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", l.channel, err)
	}
	l.logger.Info("listening for remote stop", zap.String("channel", l.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			l.logger.Warn("remote stop requested", zap.String("reason", msg.Payload))
			l.flag.Request()
		}
	}
}

// Publish sends a stop request and returns how many listeners received it.
func Publish(ctx context.Context, rdb redis.UniversalClient, channel, reason string) (int64, error) {
	if reason == "" {
		reason = "stop"
	}
	n, err := rdb.Publish(ctx, channel, reason).Result()
	if err != nil {
		return 0, fmt.Errorf("publish stop on %s: %w", channel, err)
	}
	return n, nil
}
