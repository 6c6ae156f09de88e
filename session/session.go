// Package session ties an attached device together: the command exchange,
// the vendor capabilities chosen for it, its sticky state and its message
// list. Operations on a session are serialized.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"i4.energy/across/modemd/at"
	"i4.energy/across/modemd/device"
	"i4.energy/across/modemd/mode"
	"i4.energy/across/modemd/modem"
	"i4.energy/across/modemd/sms"
)

var (
	// ErrSIMPinRequired is returned when the SIM asks for a PIN and none
	// was configured.
	ErrSIMPinRequired = errors.New("SIM PIN required but not provided")

	// ErrDetached is returned by every operation after Detach.
	ErrDetached = errors.New("session detached")
)

// PollConfig defines configuration for polling operations like waiting for SIM readiness.
type PollConfig struct {
	// Interval is the time between polling attempts
	Interval time.Duration
	// Timeout is the maximum time to wait for the condition
	Timeout time.Duration
	// MaxRetries is the maximum number of polling attempts
	MaxRetries int
}

// Config describes how a device is attached.
type Config struct {
	// Vendor selects the capabilities variant by name. Empty selects by
	// VendorID.
	Vendor   string
	VendorID uint16
	// PIN unlocks the SIM during Attach if it asks for one.
	PIN     string
	SIMPoll PollConfig
	// Listeners are subscribed to the message list before stored
	// messages are loaded. They run with the session locked and must not
	// call back into it.
	Listeners []sms.Listener
	// Messages is the list the session fills. Nil creates a new one.
	Messages *sms.List
	Logger   *slog.Logger
}

// Session is one attached device.
type Session struct {
	mu       sync.Mutex
	detached bool

	ex       device.Exchange
	caps     device.Capabilities
	state    *device.State
	messages *sms.List
	poll     PollConfig
	logger   *slog.Logger
}

// Attach selects the vendor variant, runs its setup, unlocks the SIM,
// switches messaging to PDU mode with new message indications, and loads
// the messages already stored on the device.
func Attach(ctx context.Context, ex device.Exchange, config Config) (*Session, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	state := device.NewState()
	caps, err := device.New(ex, state, device.Options{
		Name:     config.Vendor,
		VendorID: config.VendorID,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		ex:       ex,
		caps:     caps,
		state:    state,
		messages: config.Messages,
		poll:     config.SIMPoll,
		logger:   logger.With("component", "session", "vendor", caps.Name()),
	}
	if s.messages == nil {
		s.messages = sms.NewList(logger.With("component", "sms"))
	}
	for _, l := range config.Listeners {
		s.messages.Subscribe(l)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := caps.Setup(ctx); err != nil {
		return nil, fmt.Errorf("vendor setup: %w", err)
	}
	if err := s.unlock(ctx, config.PIN); err != nil {
		return nil, err
	}
	if _, err := ex.Submit(ctx, modem.Request{Command: at.CmdSetPDUMode}); err != nil {
		return nil, fmt.Errorf("set SMS PDU mode: %w", err)
	}
	if _, err := ex.Submit(ctx, modem.Request{Command: at.CmdNewMsgNotify}); err != nil {
		return nil, fmt.Errorf("enable new message indications: %w", err)
	}
	if err := s.loadStored(ctx); err != nil {
		return nil, fmt.Errorf("load stored messages: %w", err)
	}

	s.logger.Info("device attached", "messages", s.messages.Len())
	return s, nil
}

// Detach ends the session. The sticky state and cached PIN are dropped
// with it.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return
	}
	s.detached = true
	s.state.ClearPIN()
	s.logger.Info("device detached")
}

func (s *Session) lock() error {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return ErrDetached
	}
	return nil
}

// Vendor is the name of the selected capabilities variant.
func (s *Session) Vendor() string {
	return s.caps.Name()
}

// Messages is the message list of the session.
func (s *Session) Messages() *sms.List {
	return s.messages
}

func (s *Session) LoadModes(ctx context.Context) (allowed, preferred mode.Mode, err error) {
	if err := s.lock(); err != nil {
		return mode.None, mode.None, err
	}
	defer s.mu.Unlock()
	return s.caps.LoadModes(ctx)
}

func (s *Session) SetModes(ctx context.Context, allowed, preferred mode.Mode) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if err := s.caps.SetModes(ctx, allowed, preferred); err != nil {
		return err
	}
	s.logger.Info("modes set", "allowed", allowed, "preferred", preferred)
	return nil
}

func (s *Session) LoadSupportedModes(ctx context.Context) (mode.Mode, error) {
	if err := s.lock(); err != nil {
		return mode.None, err
	}
	defer s.mu.Unlock()
	return s.caps.LoadSupportedModes(ctx)
}

func (s *Session) LoadAccessTechnology(ctx context.Context) (mode.AccessTechnology, error) {
	if err := s.lock(); err != nil {
		return mode.TechUnknown, err
	}
	defer s.mu.Unlock()
	return s.caps.LoadAccessTechnology(ctx)
}

func (s *Session) LoadIdentifier(ctx context.Context) (string, error) {
	if err := s.lock(); err != nil {
		return "", err
	}
	defer s.mu.Unlock()
	return s.caps.LoadIdentifier(ctx)
}

// SubmitPIN sends pin to the SIM. An empty pin replays the cached one on
// vendors that keep it.
func (s *Session) SubmitPIN(ctx context.Context, pin string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.caps.SubmitPIN(ctx, pin)
}

// PowerDown puts the radio in low power mode.
func (s *Session) PowerDown(ctx context.Context) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.caps.PowerDown(ctx)
}

// PowerUp switches the radio on. Devices that lock the SIM again on power
// up are unlocked with the cached PIN.
func (s *Session) PowerUp(ctx context.Context) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if _, err := s.ex.Submit(ctx, modem.Request{Command: "+CFUN=1", Timeout: 10 * time.Second}); err != nil {
		return fmt.Errorf("power up: %w", err)
	}

	status, err := s.simStatus(ctx)
	if err != nil {
		return err
	}
	if !isPINRequest(status) {
		return nil
	}

	s.logger.Info("SIM locked after power up, replaying PIN")
	if err := s.caps.SubmitPIN(ctx, ""); err != nil {
		return fmt.Errorf("unlock SIM after power up: %w", err)
	}
	return s.waitForSIMReady(ctx)
}

// DeleteMessage removes every part of a message from device storage, then
// from the list. If a part cannot be deleted the message stays listed.
func (s *Session) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	msg, ok := s.messages.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", sms.ErrNotFound, id)
	}
	for _, index := range msg.Indexes() {
		if _, err := s.ex.Submit(ctx, modem.Request{Command: fmt.Sprintf("+CMGD=%d", index)}); err != nil {
			return fmt.Errorf("delete part %d: %w", index, err)
		}
	}
	return s.messages.Delete(id)
}

// unlock checks the SIM status and sends pin if the SIM asks for one.
func (s *Session) unlock(ctx context.Context, pin string) error {
	status, err := s.simStatus(ctx)
	if err != nil {
		return err
	}

	switch {
	case strings.Contains(status, at.SimReady):
		return nil

	case isPINRequest(status):
		if pin == "" {
			return ErrSIMPinRequired
		}
		if err := s.caps.SubmitPIN(ctx, pin); err != nil {
			return fmt.Errorf("enter SIM PIN: %w", err)
		}
		// Wait until SIM becomes ready
		return s.waitForSIMReady(ctx)

	default:
		return fmt.Errorf("unsupported SIM state: %q", status)
	}
}

func (s *Session) simStatus(ctx context.Context) (string, error) {
	resp, err := s.ex.Submit(ctx, modem.Request{Command: at.CmdSimStatus})
	if err != nil {
		return "", fmt.Errorf("query SIM status: %w", err)
	}
	return resp, nil
}

// isPINRequest matches "+CPIN: SIM PIN" but not PIN2 or PUK requests.
func isPINRequest(status string) bool {
	value, _ := at.StripTag(status, "+CPIN:")
	return value == at.SimPin
}

// waitForSIMReady polls the SIM card status until it reports ready state.
// This is necessary after entering a SIM PIN, as the SIM card needs time
// to authenticate and become operational. Uses configurable polling interval
// and retry limits to avoid infinite waiting.
func (s *Session) waitForSIMReady(ctx context.Context) error {
	var (
		pollInterval = s.poll.Interval
		timeout      = s.poll.Timeout
		maxRetries   = s.poll.MaxRetries
	)

	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = int(timeout / pollInterval)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	retries := 0

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("SIM not ready: %w", ctx.Err())
		case <-ticker.C:
			retries++
			if retries > maxRetries {
				return fmt.Errorf("SIM not ready after %d retries", maxRetries)
			}
			resp, err := s.ex.Submit(ctx, modem.Request{Command: at.CmdSimStatus})
			if err != nil {
				// Fail fast on critical errors
				if errors.Is(err, modem.ErrAlreadyClosed) || errors.Is(err, context.Canceled) {
					return fmt.Errorf("SIM status check failed: %w", err)
				}
				continue
			}
			if strings.Contains(resp, at.SimReady) {
				return nil
			}
		}
	}
}
