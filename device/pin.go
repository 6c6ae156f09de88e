package device

import "context"

// PINCache wraps a PIN submission so the last PIN can be replayed.
//
// A non-empty pin replaces the cached one before it is sent. An empty pin
// replays the cached one, or fails with ErrMissingCredential without
// contacting the device. A failed submission clears the cache so a
// rejected PIN is never replayed; a successful one keeps it for the rest
// of the session.
type PINCache struct {
	state  *State
	submit func(ctx context.Context, pin string) error
}

func NewPINCache(state *State, submit func(ctx context.Context, pin string) error) *PINCache {
	return &PINCache{state: state, submit: submit}
}

func (p *PINCache) Submit(ctx context.Context, pin string) error {
	if pin != "" {
		p.state.SetPIN(pin)
	} else {
		cached, ok := p.state.PIN()
		if !ok {
			return ErrMissingCredential
		}
		pin = cached
	}

	if err := p.submit(ctx, pin); err != nil {
		p.state.ClearPIN()
		return err
	}
	return nil
}
