//go:generate go tool mockgen -source=exchange.go -destination=mock_exchange.go -package=device

// Package device resolves per-vendor modem capabilities: operating modes,
// access technology, power down, SIM unlock and SIM identity. Each vendor
// family is a Capabilities variant chosen when the device is attached.
package device

import (
	"context"
	"time"

	"i4.energy/across/modemd/modem"
)

// Exchange is the part of the command exchange the variants need.
// *modem.Modem satisfies it.
type Exchange interface {
	Submit(ctx context.Context, req modem.Request) (string, error)
	SubmitIgnoreReply(req modem.Request)
}

const (
	// queryTimeout bounds the vendor status queries.
	queryTimeout = 3 * time.Second
	// sleepTimeout bounds the low power command, whose reply is ignored.
	sleepTimeout = 5 * time.Second
	// pinTimeout allows for slow SIM unlock.
	pinTimeout = 10 * time.Second
)

var _ Exchange = (*modem.Modem)(nil)
