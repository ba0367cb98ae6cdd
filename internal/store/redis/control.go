package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	goredis "github.com/go-redis/redis/v8"
)

// Control actions sent from the gateway to the bot.
const (
	ActionPause         = "pause"
	ActionResume        = "resume"
	ActionTogglePause   = "toggle_pause"
	ActionCloseAll      = "close_all"
	ActionAdjustCapital = "adjust_capital"
)

// HandleTimeout bounds how long the bot spends on one command. Callers of
// SendCommand should wait a little longer so a late reply still arrives.
const HandleTimeout = 4 * time.Second

// ErrBotOffline is returned when no bot is subscribed to the control channel.
var ErrBotOffline = errors.New("no bot listening on control channel")

// Command is an operator request for the bot.
type Command struct {
	ID     string  `json:"id"`
	Action string  `json:"action"`
	Value  float64 `json:"value,omitempty"`
}

// Reply is the bot's answer to one Command.
type Reply struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// CommandHandler executes one command on the bot side.
type CommandHandler func(ctx context.Context, cmd Command) Reply

// ConsumeCommands subscribes to the symbol's control channel and answers
// every command with handle. Blocks until ctx is cancelled.
func ConsumeCommands(ctx context.Context, client *goredis.Client, symbol string, handle CommandHandler) error {
	pubsub := client.Subscribe(ctx, ControlChannel(symbol))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", ControlChannel(symbol), err)
	}
	log.Printf("[redis] listening for commands on %s", ControlChannel(symbol))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var cmd Command
			if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil || cmd.ID == "" {
				log.Printf("[redis] dropping malformed command: %q", msg.Payload)
				continue
			}
			reply := handle(ctx, cmd)
			reply.ID = cmd.ID
			data, _ := json.Marshal(reply)
			if err := client.Publish(ctx, ReplyChannel(cmd.ID), data).Err(); err != nil {
				log.Printf("[redis] reply %s: %v", cmd.ID, err)
			}
		}
	}
}

// SendCommand publishes cmd on the symbol's control channel and waits for
// the reply until ctx expires. An empty cmd.ID is filled in.
func SendCommand(ctx context.Context, client *goredis.Client, symbol string, cmd Command) (Reply, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal command: %w", err)
	}

	// Subscribe before publishing so the reply cannot be missed
	pubsub := client.Subscribe(ctx, ReplyChannel(cmd.ID))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return Reply{}, fmt.Errorf("subscribe reply: %w", err)
	}

	receivers, err := client.Publish(ctx, ControlChannel(symbol), data).Result()
	if err != nil {
		return Reply{}, fmt.Errorf("publish command: %w", err)
	}
	if receivers == 0 {
		return Reply{}, ErrBotOffline
	}

	select {
	case <-ctx.Done():
		return Reply{}, fmt.Errorf("await reply %s: %w", cmd.ID, ctx.Err())
	case msg, ok := <-pubsub.Channel():
		if !ok {
			return Reply{}, fmt.Errorf("reply channel closed")
		}
		var r Reply
		if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
			return Reply{}, fmt.Errorf("decode reply: %w", err)
		}
		return r, nil
	}
}
