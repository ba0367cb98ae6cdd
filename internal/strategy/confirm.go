package strategy

import (
	"fmt"

	"github.com/elPachango/bitbot/internal/model"
)

// Confirm checks the entry gate against the two most recent closed candles:
// a LONG needs the latest close at or above the previous one, a SHORT at or
// below. The string explains the outcome either way.
func Confirm(closed []model.Candle, side model.Side) (bool, string, error) {
	if !side.Valid() {
		return false, "", fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	n := len(closed)
	if n < 2 {
		return false, "need two closed candles to confirm", nil
	}
	last, prev := closed[n-1].Close, closed[n-2].Close

	if side == model.SideLong {
		if last >= prev {
			return true, fmt.Sprintf("close %.2f >= previous %.2f", last, prev), nil
		}
		return false, fmt.Sprintf("close %.2f fell below previous %.2f", last, prev), nil
	}
	if last <= prev {
		return true, fmt.Sprintf("close %.2f <= previous %.2f", last, prev), nil
	}
	return false, fmt.Sprintf("close %.2f rose above previous %.2f", last, prev), nil
}
