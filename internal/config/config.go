// Package config parses gsm0710muxd's command-line configuration into a
// muxcore.Config (spec section 6), grounded on the teacher's
// appserver.go/atest.go flag-parsing style.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/gsm0710muxd/gsm0710muxd/internal/muxcore"
)

// Options is the parsed command line, kept separate from muxcore.Config
// so flags that aren't part of the link's runtime config (log level,
// log file) have somewhere to live.
// PowerOptions selects and configures the ModemPower backend (spec
// section 6, "power-management base directory"). This is kept separate
// from muxcore.Config since Link never looks at the backend choice
// itself, only the resulting muxcore.ModemPower.
type PowerOptions struct {
	Backend   string // "sysfs" (default) or "cdev"
	GPIOChip  string // chardev path for the "cdev" backend
	PowerLine int
	WakeLine  int // 0 means "no separate wake line"
}

type Options struct {
	Link  muxcore.Config
	Power PowerOptions

	LogLevel string
	LogFile  string
}

// Parse builds a pflag.FlagSet matching spec section 6's configuration
// surface, parses args (os.Args[1:] in production, a fixed slice in
// tests), and returns the resulting Options.
func Parse(args []string) (Options, error) {
	fs := pflag.NewFlagSet("gsm0710muxd", pflag.ContinueOnError)

	device := fs.StringP("device", "d", "/dev/ttyUSB0", "Modem serial device.")
	powerDir := fs.String("power-dir", "", "Base directory for the modem power-control GPIO lines (sysfs backend).")
	powerBackend := fs.String("power-backend", "sysfs", "GPIO backend for modem power control: sysfs or cdev.")
	gpioChip := fs.String("gpio-chip", "/dev/gpiochip0", "Chardev GPIO chip path (cdev backend).")
	powerLine := fs.Int("power-gpio-line", 0, "GPIO line number that enables modem power (0 disables GPIO power control).")
	wakeLine := fs.Int("wake-gpio-line", 0, "GPIO line number asserted before a transmit burst (0 means no separate wake line).")
	pin := fs.String("pin", "", "SIM PIN to send via AT+CPIN during initialization.")
	pingMax := fs.IntP("ping-max", "p", 5, "Consecutive unanswered watchdog PINGs before the link is considered dead.")
	silenceTimeout := fs.Duration("silence-timeout", 0, "Tear down the link if no frame arrives for this long (0 disables).")
	cmuxMode := fs.IntP("cmux-mode", "m", 0, "CMUX mode: 0 (basic) or 1 (advanced).")
	cmuxSubset := fs.Int("cmux-subset", 0, "CMUX subset parameter sent with AT+CMUX.")
	portSpeed := fs.Int("port-speed-index", 5, "AT+IPR speed table index (spec section 6).")
	atSpeed := fs.Int("at-speed-index", 5, "Initial AT-command baud table index.")
	n1 := fs.Int("n1", muxcore.N1Default, "Maximum frame information-field size.")

	wakeupSysfs := fs.Bool("wakeup-sysfs", false, "Assert a sysfs/gpiocdev wake GPIO before each transmit burst.")
	wakeupSeq := fs.Bool("wakeup-sequence", false, "Send a leading flag byte to wake the modem before each transmit burst.")
	siemensC35 := fs.Bool("siemens-c35", false, "Enable Siemens C35 AT command compatibility quirks.")
	enfora := fs.Bool("enfora", false, "Enable the ENFORA MSC/P-F compatibility workaround (spec section 9).")
	shortInit := fs.Bool("short-init", false, "Send only AT+CMUX=1 instead of the full initialization sequence.")
	legacyPerDLCI := fs.Bool("legacy-per-dlci-close", false, "Close a DLCI with a control-channel CLD on that DLCI instead of DISC (spec section 9).")

	atTimeout := fs.Duration("at-timeout", 5*time.Second, "Timeout waiting for a reply to an AT command.")
	watchdogInterval := fs.Duration("watchdog-interval", 5*time.Second, "Interval between watchdog ticks.")
	reopenDelay := fs.Duration("reopen-delay", 5*time.Second, "Stored as Config.InitReopenDelay; the link does not consult it and reopens on the watchdog tick after teardown.")

	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error.")
	logFile := fs.String("log-file", "", "Write logs to this file instead of stderr.")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: gsm0710muxd [options]\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}

	cfg := muxcore.DefaultConfig()
	cfg.SerialDevice = *device
	cfg.PowerBaseDir = *powerDir
	cfg.PIN = *pin
	cfg.PingMax = *pingMax
	cfg.SilenceTimeout = *silenceTimeout
	cfg.CmuxMode = muxcore.Mode(*cmuxMode)
	cfg.CmuxSubset = *cmuxSubset
	cfg.PortSpeedIndex = *portSpeed
	cfg.ATSpeedIndex = *atSpeed
	cfg.N1 = *n1
	cfg.Flags = muxcore.Flags{
		WakeupSysfs:   *wakeupSysfs,
		WakeupSeq:     *wakeupSeq,
		SiemensC35:    *siemensC35,
		Enfora:        *enfora,
		ShortInit:     *shortInit,
		LegacyPerDLCI: *legacyPerDLCI,
	}
	cfg.ATCommandTimeout = *atTimeout
	cfg.WatchdogInterval = *watchdogInterval
	cfg.InitReopenDelay = *reopenDelay

	power := PowerOptions{
		Backend:   *powerBackend,
		GPIOChip:  *gpioChip,
		PowerLine: *powerLine,
		WakeLine:  *wakeLine,
	}

	return Options{Link: cfg, Power: power, LogLevel: *logLevel, LogFile: *logFile}, nil
}
