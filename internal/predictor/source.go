// Package predictor produces prediction cycles: the next target candle, each
// model's forecast of its close and the candles the models were shown.
package predictor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

var (
	_ domain.PredictionSource = (*ModelSource)(nil)
	_ domain.PredictionSource = (*HTTPSource)(nil)
)

const promptHeader = "Given the following candlestick data (timestamp, open, high, low, close, volume) for the last %d candles:\n"

const promptInstruction = "\nPredict the next candle's *closing price*. Respond with only a single number, no words, no symbols, no explanation."

// BuildPrompt renders candles as JSON followed by the single-number
// instruction.
func BuildPrompt(candles []domain.Candle) (string, error) {
	data, err := json.Marshal(candles)
	if err != nil {
		return "", fmt.Errorf("predictor: build prompt: %w", err)
	}
	return fmt.Sprintf(promptHeader, len(candles)) + string(data) + promptInstruction, nil
}

// ParseInterval converts a kline interval such as "5m", "1h" or "1d" into a
// duration. Monthly bars have no fixed length and are rejected.
func ParseInterval(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("predictor: interval %q: %w", s, domain.ErrValidation)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("predictor: interval %q: %w", s, domain.ErrValidation)
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("predictor: interval %q: unsupported unit: %w", s, domain.ErrValidation)
	}
	return time.Duration(n) * unit, nil
}
