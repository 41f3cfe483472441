// Command gsm0710muxd multiplexes a GSM 07.10 control/data/data/...
// session over one modem serial port into one pseudo-terminal per DLCI
// (spec section 1).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/term"

	"github.com/gsm0710muxd/gsm0710muxd/internal/config"
	"github.com/gsm0710muxd/gsm0710muxd/internal/logging"
	"github.com/gsm0710muxd/gsm0710muxd/internal/muxcore"
	"github.com/gsm0710muxd/gsm0710muxd/internal/power"
)

var log = logging.For("main")

func main() {
	opts, err := config.Parse(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	logging.SetLevelName(opts.LogLevel)
	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "gsm0710muxd: open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logging.SetOutput(f)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	modemPower := newModemPower(opts)

	watchdog := muxcore.NewWatchdog(opts.Link.WatchdogInterval)
	var loop *muxcore.EventLoop
	var link *muxcore.Link

	link = muxcore.NewLink(opts.Link, modemPower, openSerial, func(active bool) {
		log.Info("mux state change", "muxing", active)
		if loop == nil {
			return
		}
		if active {
			if err := loop.RegisterSerial(link.Serial()); err != nil {
				log.Error("register serial fd", "err", err)
			}
		} else {
			loop.UnregisterSerial()
		}
	}, func(ch *muxcore.Channel) {
		if loop != nil {
			loop.RegisterPty(ch)
		}
		log.Info("channel allocated", "dlci", ch.ID, "path", ch.Path(), "purpose", ch.Purpose())
	})
	link.SetPtyWriter(func(ch *muxcore.Channel, payload []byte) {
		master := link.Channels().PtyMaster(ch.ID)
		if master == nil {
			return
		}
		master.Write(payload)
	})

	loop = muxcore.NewEventLoop(link, watchdog)
	supervisor := muxcore.NewSupervisorAPI(link)
	_ = supervisor // wired up by whatever Supervisor transport an operator chooses; out of scope here (spec section 1).

	link.RequestPower(ctx, true)

	log.Info("gsm0710muxd starting", "device", opts.Link.SerialDevice, "mode", opts.Link.CmuxMode)
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("event loop exited", "err", err)
		os.Exit(1)
	}
}

// newModemPower builds the configured ModemPower backend: a chardev-gpio
// implementation when --power-backend=cdev is requested explicitly, a
// sysfs one when power-control options are present, or nil when nothing
// about GPIO power control was configured (spec section 6,
// "power-management base directory" is optional — no modemPower at all
// is the common case on boards where the modem is always powered).
func newModemPower(opts config.Options) muxcore.ModemPower {
	if opts.Power.Backend == "cdev" {
		return &power.CdevGPIO{
			Chip:          opts.Power.GPIOChip,
			PowerLine:     opts.Power.PowerLine,
			WakeLine:      opts.Power.WakeLine,
			PowerOnDelay:  2 * time.Second,
			PowerOffDelay: time.Second,
		}
	}
	if opts.Link.PowerBaseDir == "" && opts.Power.PowerLine == 0 && opts.Power.WakeLine == 0 {
		return nil
	}
	return &power.SysfsGPIO{
		BaseDir:       opts.Link.PowerBaseDir,
		PowerLine:     opts.Power.PowerLine,
		WakeLine:      opts.Power.WakeLine,
		PowerOnDelay:  2 * time.Second,
		PowerOffDelay: time.Second,
	}
}

// openSerial implements muxcore.SerialOpener, grounded on the teacher's
// src/serial_port.go (github.com/pkg/term.Open + SetSpeed).
func openSerial(device string, baud int) (muxcore.SerialPort, error) {
	t, err := term.Open(device, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("gsm0710muxd: open %s: %w", device, err)
	}
	if baud != 0 {
		if err := t.SetSpeed(baud); err != nil {
			t.Close()
			return nil, fmt.Errorf("gsm0710muxd: set speed %d on %s: %w", baud, device, err)
		}
	}
	return t, nil
}
