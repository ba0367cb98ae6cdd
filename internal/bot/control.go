package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/elPachango/bitbot/internal/metrics"
	"github.com/elPachango/bitbot/internal/portfolio"
	redisstore "github.com/elPachango/bitbot/internal/store/redis"
)

// controller is the operator surface of the trader.
type controller interface {
	SetPaused(ctx context.Context, paused bool) (bool, error)
	TogglePause(ctx context.Context) (bool, error)
	CloseAll(ctx context.Context, price float64) ([]portfolio.Position, error)
	AdjustCapital(ctx context.Context, value float64) error
}

type pauseResult struct {
	Paused bool `json:"paused"`
}

type closeAllResult struct {
	Closed []portfolio.Position `json:"closed"`
}

type capitalResult struct {
	Capital float64 `json:"capital"`
}

// commandHandler maps control-channel commands onto the trader. health may
// be nil.
func commandHandler(c controller, health *metrics.HealthStatus) redisstore.CommandHandler {
	return func(ctx context.Context, cmd redisstore.Command) redisstore.Reply {
		ctx, cancel := context.WithTimeout(ctx, redisstore.HandleTimeout)
		defer cancel()

		result, err := runCommand(ctx, c, health, cmd)
		if err != nil {
			log.Printf("[bot] command %s %s failed: %v", cmd.ID, cmd.Action, err)
			return redisstore.Reply{ID: cmd.ID, Error: err.Error()}
		}
		data, err := json.Marshal(result)
		if err != nil {
			return redisstore.Reply{ID: cmd.ID, Error: err.Error()}
		}
		log.Printf("[bot] command %s %s ok", cmd.ID, cmd.Action)
		return redisstore.Reply{ID: cmd.ID, OK: true, Result: data}
	}
}

func runCommand(ctx context.Context, c controller, health *metrics.HealthStatus, cmd redisstore.Command) (interface{}, error) {
	switch cmd.Action {
	case redisstore.ActionPause, redisstore.ActionResume, redisstore.ActionTogglePause:
		var (
			paused bool
			err    error
		)
		switch cmd.Action {
		case redisstore.ActionPause:
			paused, err = c.SetPaused(ctx, true)
		case redisstore.ActionResume:
			paused, err = c.SetPaused(ctx, false)
		default:
			paused, err = c.TogglePause(ctx)
		}
		if err != nil {
			return nil, err
		}
		if health != nil {
			health.SetPaused(paused)
		}
		return pauseResult{Paused: paused}, nil

	case redisstore.ActionCloseAll:
		closed, err := c.CloseAll(ctx, cmd.Value)
		if err != nil {
			return nil, err
		}
		if closed == nil {
			closed = []portfolio.Position{}
		}
		return closeAllResult{Closed: closed}, nil

	case redisstore.ActionAdjustCapital:
		if err := c.AdjustCapital(ctx, cmd.Value); err != nil {
			return nil, err
		}
		return capitalResult{Capital: cmd.Value}, nil
	}
	return nil, fmt.Errorf("unknown action %q", cmd.Action)
}
