package redis

import "strings"

// Key layout. Symbols are upper-cased.
const (
	alertStream    = "stream:alerts"
	alertStreamMax = 10000
	candleStream   = 3600 // ~10h of 10s bars
)

func alertChannel(symbol string) string { return "alerts:" + strings.ToUpper(symbol) }

func candleLatestKey(symbol string) string { return "candle:latest:" + strings.ToUpper(symbol) }

func candleStreamKey(symbol string) string { return "candle:" + strings.ToUpper(symbol) }

func candleChannel(symbol string) string { return "pub:candle:" + strings.ToUpper(symbol) }

func positionKey(symbol string) string { return "position:" + strings.ToUpper(symbol) }
