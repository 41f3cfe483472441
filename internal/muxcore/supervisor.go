package muxcore

import "context"

/*------------------------------------------------------------------
 *
 * Purpose: SupervisorAPI exposes get_power / set_power / alloc_channel
 *          as plain method calls on the Link, to be run from EventLoop
 *          events (EventLoop.Dispatch) (spec section 6), for whatever
 *          external control surface a caller wires up. The concrete
 *          transport (D-Bus, a Unix socket, a CLI) is the out-of-scope
 *          Supervisor collaborator named in spec section 1.
 *
 *------------------------------------------------------------------*/

// SupervisorAPI is the thin façade a Supervisor implementation calls
// into. Every method here is safe to invoke only from the EventLoop
// goroutine: callers deliver RPCs as loop events, never from another
// goroutine directly touching the Link (spec section 5).
type SupervisorAPI struct {
	link *Link
}

// NewSupervisorAPI wraps link for supervisor use.
func NewSupervisorAPI(link *Link) *SupervisorAPI {
	return &SupervisorAPI{link: link}
}

// GetPower reports whether the link's state is not OFF.
func (s *SupervisorAPI) GetPower() bool {
	return s.link.GetPower()
}

// SetPower requests a power state transition.
func (s *SupervisorAPI) SetPower(ctx context.Context, on bool) {
	s.link.RequestPower(ctx, on)
}

// AllocChannel allocates a new DLCI for purpose and returns its slave pty
// path, or ErrNoBuffer if the link isn't MUXING or every slot is full.
func (s *SupervisorAPI) AllocChannel(purpose string) (string, error) {
	ch, err := s.link.AllocChannel(purpose)
	if err != nil {
		return "", err
	}
	return ch.Path(), nil
}
