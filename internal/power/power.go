// Package power implements muxcore.ModemPower: turning the modem's power
// line on/off and, where the hardware needs it, asserting a wake line
// before a transmit burst (spec section 4.D "Wake-up", section 6).
package power

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

/*------------------------------------------------------------------
 *
 * Purpose: SysfsGPIO drives a modem's power-enable and (optionally) wake
 *          lines through the Linux /sys/class/gpio export/direction/value
 *          files, the same mechanism the teacher's src/ptt.go uses for
 *          its non-gpiod PTT path (export_gpio / set_ptt_gpio).
 *
 *------------------------------------------------------------------*/

const sysfsGPIORoot = "/sys/class/gpio"

// SysfsGPIO toggles a modem's power-enable line (and, optionally, a
// separate wake line) via sysfs. BaseDir overrides sysfsGPIORoot for
// tests.
type SysfsGPIO struct {
	BaseDir string

	PowerLine int
	WakeLine  int // 0 means "no separate wake line"

	PowerOnDelay  time.Duration
	PowerOffDelay time.Duration
}

func (g *SysfsGPIO) baseDir() string {
	if g.BaseDir != "" {
		return g.BaseDir
	}
	return sysfsGPIORoot
}

// exportLine exports a GPIO number if it isn't already, mirroring the
// teacher's export_gpio: write the number to .../export, then poll for
// the resulting gpio<N> directory to appear.
func (g *SysfsGPIO) exportLine(line int) error {
	dir := filepath.Join(g.baseDir(), fmt.Sprintf("gpio%d", line))
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	exportPath := filepath.Join(g.baseDir(), "export")
	f, err := os.OpenFile(exportPath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("power: open %s: %w", exportPath, err)
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(line)); err != nil {
		return fmt.Errorf("power: export gpio %d: %w", line, err)
	}
	for i := 0; i < 10; i++ {
		if _, err := os.Stat(dir); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("power: gpio %d never appeared at %s", line, dir)
}

func (g *SysfsGPIO) setDirection(line int, dir string) error {
	path := filepath.Join(g.baseDir(), fmt.Sprintf("gpio%d", line), "direction")
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("power: open %s: %w", path, err)
	}
	defer f.Close()
	_, err = f.WriteString(dir)
	return err
}

func (g *SysfsGPIO) setValue(line int, high bool) error {
	path := filepath.Join(g.baseDir(), fmt.Sprintf("gpio%d", line), "value")
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("power: open %s: %w", path, err)
	}
	defer f.Close()
	v := "0"
	if high {
		v = "1"
	}
	_, err = f.WriteString(v)
	return err
}

func (g *SysfsGPIO) initLine(line int) error {
	if line == 0 {
		return nil
	}
	if err := g.exportLine(line); err != nil {
		return err
	}
	return g.setDirection(line, "out")
}

// PowerOn exports and drives the power-enable line high, waiting
// PowerOnDelay for the modem to come up.
func (g *SysfsGPIO) PowerOn(ctx context.Context) error {
	if err := g.initLine(g.PowerLine); err != nil {
		return err
	}
	if err := g.initLine(g.WakeLine); err != nil {
		return err
	}
	if g.PowerLine != 0 {
		if err := g.setValue(g.PowerLine, true); err != nil {
			return err
		}
	}
	return waitOrDone(ctx, g.PowerOnDelay)
}

// PowerOff drives the power-enable line low.
func (g *SysfsGPIO) PowerOff(ctx context.Context) error {
	if g.PowerLine == 0 {
		return nil
	}
	if err := g.setValue(g.PowerLine, false); err != nil {
		return err
	}
	return waitOrDone(ctx, g.PowerOffDelay)
}

// AssertWake drives the wake line high and returns a closure to lower it
// again; a no-op pair when no wake line is configured (spec section 6,
// WAKEUP_SYSFS).
func (g *SysfsGPIO) AssertWake() (deassert func()) {
	if g.WakeLine == 0 {
		return func() {}
	}
	g.setValue(g.WakeLine, true)
	return func() { g.setValue(g.WakeLine, false) }
}

func waitOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
