//go:build linux || darwin

package muxcore

import (
	"os"
	"syscall"

	"github.com/pkg/term/termios"
)

/*------------------------------------------------------------------
 *
 * Purpose: Put a freshly allocated pty slave into raw mode: no
 *          canonical line editing, no echo, no signal characters,
 *          no CR/NL translation, no output post-processing (spec
 *          section 4.E).
 *
 * Grounded on github.com/pkg/term's termios helpers, already pulled in
 * transitively by the teacher's serial_port.go use of github.com/pkg/term.
 *
 *------------------------------------------------------------------*/

func setRawMode(slave *os.File) error {
	var attr syscall.Termios
	if err := termios.Tcgetattr(slave.Fd(), &attr); err != nil {
		return err
	}
	termios.Cfmakeraw(&attr)
	return termios.Tcsetattr(slave.Fd(), termios.TCSANOW, &attr)
}
