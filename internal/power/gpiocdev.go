package power

import (
	"context"
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

/*------------------------------------------------------------------
 *
 * Purpose: CdevGPIO is the modern counterpart to SysfsGPIO, built on the
 *          character-device GPIO API (github.com/warthog618/go-gpiocdev)
 *          rather than the deprecated /sys/class/gpio export interface.
 *          Declared in the teacher's go.mod but never imported by its
 *          source (the teacher drives PTT lines through the legacy sysfs
 *          path and libgpiod cgo bindings instead); this repo gives it a
 *          real caller, selected via --power-backend=cdev, for a board
 *          whose kernel has chardev gpio but no sysfs gpio class.
 *
 *------------------------------------------------------------------*/

// gpioLine is the subset of *gpiocdev.Line that CdevGPIO needs, broken
// out so tests can substitute a fake line instead of requesting a real
// chardev (mirroring muxcore.SerialOpener's injection pattern).
type gpioLine interface {
	SetValue(value int) error
	Close() error
}

// lineRequester opens one GPIO line as an output, defaulting to
// gpiocdev.RequestLine against a real chardev.
type lineRequester func(chip string, offset int, consumer string) (gpioLine, error)

func requestCdevLine(chip string, offset int, consumer string) (gpioLine, error) {
	return gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(consumer))
}

// CdevGPIO drives a modem's power-enable and (optional) wake lines
// through a gpiod character device, e.g. "/dev/gpiochip0".
type CdevGPIO struct {
	Chip      string
	PowerLine int
	WakeLine  int // 0 means "no separate wake line"

	PowerOnDelay  time.Duration
	PowerOffDelay time.Duration

	// requestLine is overridden in tests; nil means requestCdevLine.
	requestLine lineRequester

	power gpioLine
	wake  gpioLine
}

func (g *CdevGPIO) request(offset int, consumer string) (gpioLine, error) {
	if g.requestLine != nil {
		return g.requestLine(g.Chip, offset, consumer)
	}
	return requestCdevLine(g.Chip, offset, consumer)
}

// PowerOn requests the power line (if not already held) and drives it
// high, waiting PowerOnDelay for the modem to come up.
func (g *CdevGPIO) PowerOn(ctx context.Context) error {
	if g.power == nil {
		line, err := g.request(g.PowerLine, "gsm0710muxd")
		if err != nil {
			return fmt.Errorf("power: request power line %d on %s: %w", g.PowerLine, g.Chip, err)
		}
		g.power = line
	}
	if err := g.power.SetValue(1); err != nil {
		return fmt.Errorf("power: assert power line: %w", err)
	}
	return waitOrDone(ctx, g.PowerOnDelay)
}

// PowerOff drives the power line low and releases it.
func (g *CdevGPIO) PowerOff(ctx context.Context) error {
	if g.power == nil {
		return nil
	}
	err := g.power.SetValue(0)
	g.power.Close()
	g.power = nil
	if err != nil {
		return fmt.Errorf("power: deassert power line: %w", err)
	}
	return waitOrDone(ctx, g.PowerOffDelay)
}

// AssertWake requests (on first use) and raises the wake line, returning
// a closure that lowers it again. A no-op pair when no wake line is
// configured.
func (g *CdevGPIO) AssertWake() (deassert func()) {
	if g.WakeLine == 0 {
		return func() {}
	}
	if g.wake == nil {
		line, err := g.request(g.WakeLine, "gsm0710muxd-wake")
		if err != nil {
			return func() {}
		}
		g.wake = line
	}
	g.wake.SetValue(1)
	return func() { g.wake.SetValue(0) }
}
