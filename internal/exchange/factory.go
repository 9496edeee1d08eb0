package exchange

import (
	"fmt"
	"time"
)

// NewVenue создает реализацию площадки по имени режима
func NewVenue(mode, gatewayURL string, requestTimeout time.Duration) (Venue, error) {
	switch mode {
	case "sim":
		return NewSimVenue(time.Now().UnixNano()), nil
	case "gateway":
		cfg := DefaultGatewayConfig(gatewayURL)
		if requestTimeout > 0 {
			cfg.RequestTimeout = requestTimeout
		}
		return NewGatewayClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown venue mode: %q", mode)
	}
}
