package position

import (
	"fmt"

	"momentum-trader/internal/model"
)

// CheckDynamicExit reports a "candle under candle" reversal: the latest
// completed bar's low is below the previous bar's low.
func CheckDynamicExit(bars []model.Candle) (bool, string) {
	if len(bars) < 2 {
		return false, "Insufficient bar data for exit check"
	}
	latest, prev := bars[len(bars)-1], bars[len(bars)-2]
	if latest.Low < prev.Low {
		return true, fmt.Sprintf("Candle Under Candle detected: Latest low $%.2f < Previous low $%.2f", latest.Low, prev.Low)
	}
	return false, fmt.Sprintf("No exit signal: Latest low $%.2f >= Previous low $%.2f", latest.Low, prev.Low)
}
