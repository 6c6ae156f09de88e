package modem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"i4.energy/across/modemd/at"
)

// Modem represents a GSM/3G/4G cellular modem that communicates via AT commands.
// It is the command exchange for one device port: every command goes through
// a single queue that the event loop drains one command at a time, so physical
// I/O is serialized and replies are matched to the command that produced them.
type Modem struct {
	// transport provides the physical connection to the modem (serial, TCP, etc.)
	transport Transport
	// config contains the modem configuration settings
	config Config
	logger *slog.Logger

	// mu guards closed, stopped, queue and cache
	mu     sync.Mutex
	closed bool
	// stopped is why the Loop ended; nothing is dequeued once it is set
	stopped error
	// queue holds submitted commands in dispatch order; priority
	// commands are inserted at the front
	queue []*commandRequest
	// cache keeps successful replies of commands submitted with AllowCached
	cache map[string]string
	// wake is signalled whenever a command is queued
	wake chan struct{}

	// loopRunning indicates if the Loop is currently running
	loopRunning atomic.Bool
	// urcChan receives Unsolicited Result Codes from the modem
	urcChan chan string

	// loopCtx is cancelled by Close to stop a running Loop
	loopCtx    context.Context
	loopCancel context.CancelFunc
}

// commandRequest represents an AT command waiting for, or in, execution.
type commandRequest struct {
	req  Request
	wire string
	// timeout starts when the command is written, not when it is queued
	timeout time.Duration
	// respChan receives the result; nil when the caller ignores the reply
	respChan chan commandResponse
	// ctx carries the caller's cancellation
	ctx context.Context
}

// commandResponse contains the result of an AT command execution.
type commandResponse struct {
	response string
	err      error
}

var _ interface {
	Submit(context.Context, Request) (string, error)
	SubmitIgnoreReply(Request)
} = (*Modem)(nil)

// New creates a new Modem instance with the given configuration.
// It establishes the transport connection, initializes the modem
// hardware with common actions and prepares the event loop context.
//
// Returns an error if the transport connection or modem initialization
// fails.
func New(ctx context.Context, config Config) (*Modem, error) {
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	transport, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial modem: %w", err)
	}
	if transport == nil {
		return nil, fmt.Errorf("dial modem: %w", ErrNotInitialized)
	}

	m := &Modem{
		transport: transport,
		config:    config,
		logger:    config.logger,
		cache:     make(map[string]string),
		wake:      make(chan struct{}, 1),
		urcChan:   make(chan string, config.urcBuffer),
	}

	// Prepare context for Loop (but don't start it yet)
	m.loopCtx, m.loopCancel = context.WithCancel(context.Background())

	initCtx, cancel := context.WithTimeout(ctx, config.initTimeout)
	defer cancel()

	if err := m.init(initCtx); err != nil {
		m.loopCancel()
		transport.Close()
		return nil, fmt.Errorf("initialize modem: %w", err)
	}

	return m, nil
}

// Loop is the main event loop that handles all transport I/O operations.
// It must be running for Submit to make progress. The Loop:
//
// 1. Takes the next queued command once the previous one has completed
// 2. Writes it to the transport and arms its reply timeout
// 3. Reads and classifies the lines coming back
// 4. Dispatches URCs (Unsolicited Result Codes) to the URC channel
// 5. Completes the command on its final result code, prompt, timeout or cancellation
//
// The Loop runs until the provided context is cancelled, Close is called or
// the transport fails. Once it has returned, queued and later commands fail
// with a *TransportError carrying the reason it stopped. It's the ONLY goroutine that reads from the transport,
// preventing race conditions and ensuring URCs are never lost.
//
// Usage:
//
//	modem, err := New(ctx, config)
//	if err != nil { return err }
//
//	go modem.Loop(ctx)
//
//	resp, err := modem.Submit(ctx, Request{Command: "+CFUN?"})
func (m *Modem) Loop(ctx context.Context) (err error) {
	if !m.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer m.loopRunning.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.loopCtx, cancel)
	defer stop()

	scanner := bufio.NewScanner(m.transport)
	scanner.Split(at.Splitter)

	// Channels for tokens and errors from the scanner goroutine
	tokens := make(chan string, 10)
	scanErrs := make(chan error, 1)

	go func() {
		defer close(tokens)
		for scanner.Scan() {
			token := scanner.Text()
			if token != "" {
				select {
				case tokens <- token:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			scanErrs <- err
		}
	}()

	var (
		current *commandRequest
		lines   []string
		timer   *time.Timer
	)

	finish := func(response string, err error) {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		m.complete(current, response, err)
		current = nil
		lines = nil
	}

	defer func() {
		if current != nil {
			finish("", &TransportError{Command: current.req.Command, Err: err})
		}
		m.abortQueued(err)
	}()

	for {
		if current == nil {
			if next := m.dequeue(); next != nil {
				if err := next.ctx.Err(); err != nil {
					m.complete(next, "", &TransportError{Command: next.req.Command, Err: err})
					continue
				}
				if _, err := m.transport.Write([]byte(next.wire + "\r")); err != nil {
					m.complete(next, "", &TransportError{Command: next.req.Command, Err: fmt.Errorf("write: %w", err)})
					continue
				}
				m.logger.Debug("command sent", "command", redact(next.wire))
				current = next
				timer = time.NewTimer(next.timeout)
			}
		}

		var (
			wake      <-chan struct{}
			expired   <-chan time.Time
			cancelled <-chan struct{}
		)
		if current == nil {
			wake = m.wake
		} else {
			expired = timer.C
			cancelled = current.ctx.Done()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-wake:
			// A command was queued; pick it up on the next iteration.

		case <-expired:
			finish("", &TransportError{Command: current.req.Command, Err: context.DeadlineExceeded})

		case <-cancelled:
			finish("", &TransportError{Command: current.req.Command, Err: current.ctx.Err()})

		case token, ok := <-tokens:
			if !ok {
				// The scanner reports its error before closing the channel.
				select {
				case err := <-scanErrs:
					return fmt.Errorf("scanner error: %w", err)
				default:
				}
				return io.EOF
			}

			switch at.Classify(token) {
			case at.TypeURC:
				// URCs can arrive at any time, even during command execution
				select {
				case m.urcChan <- token:
				default:
					m.logger.Warn("URC buffer full, dropping URC", "urc", token)
				}

			case at.TypeFinal:
				if current == nil {
					m.logger.Debug("orphaned final response", "response", token)
					continue
				}
				response := strings.Join(lines, "\n")
				if token == at.OK {
					finish(response, nil)
				} else {
					finish(response, &CommandError{Command: current.req.Command, Result: token, Response: response})
				}

			case at.TypeData:
				if current != nil {
					lines = append(lines, token)
				}

			case at.TypePrompt:
				// SMS prompt ("> ") - the caller continues with the message body
				if current != nil {
					lines = append(lines, token)
					finish(strings.Join(lines, "\n"), nil)
				}
			}

		case err := <-scanErrs:
			return fmt.Errorf("scanner error: %w", err)
		}
	}
}

// Submit queues a command and waits for its reply. The reply holds the
// information lines of the response without the final result code.
//
// A *TransportError is returned when the command timed out, ctx was cancelled
// or the port is gone; a *CommandError when the device answered with an error
// result code.
func (m *Modem) Submit(ctx context.Context, req Request) (string, error) {
	if req.AllowCached {
		if resp, ok := m.cached(req.Command); ok {
			return resp, nil
		}
	}

	r, err := m.enqueue(ctx, req, true)
	if err != nil {
		return "", err
	}

	select {
	case resp := <-r.respChan:
		if resp.err == nil && req.AllowCached {
			m.store(req.Command, resp.response)
		}
		return resp.response, resp.err
	case <-ctx.Done():
		return "", &TransportError{Command: req.Command, Err: ctx.Err()}
	}
}

// SubmitIgnoreReply queues a command without waiting for it. The command
// keeps its place in the queue and its reply is consumed and discarded.
func (m *Modem) SubmitIgnoreReply(req Request) {
	if _, err := m.enqueue(context.Background(), req, false); err != nil {
		m.logger.Debug("command not queued", "command", redact(req.Command), "error", err)
	}
}

// URC returns a read-only channel that receives Unsolicited Result Codes.
// These are asynchronous notifications from the modem (e.g., incoming SMS,
// network status changes, etc.). The channel is buffered, but may drop
// some URC if not consumed fast enough.
func (m *Modem) URC() <-chan string {
	return m.urcChan
}

// Close shuts down the modem and releases all resources.
// It stops the event loop, closes the transport connection, and marks
// the modem as closed. After calling Close(), the modem cannot be reused.
func (m *Modem) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	m.closed = true
	clear(m.cache)
	m.mu.Unlock()

	// Stop the Loop if it's running
	if m.loopCancel != nil {
		m.loopCancel()
	}

	if m.transport != nil {
		return m.transport.Close()
	}

	return nil
}

func (m *Modem) enqueue(ctx context.Context, req Request, wait bool) (*commandRequest, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.config.atTimeout
	}
	r := &commandRequest{
		req:     req,
		wire:    req.wire(),
		timeout: timeout,
		ctx:     ctx,
	}
	if wait {
		// Buffered so the Loop never blocks on an abandoned caller
		r.respChan = make(chan commandResponse, 1)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, &TransportError{Command: req.Command, Err: ErrAlreadyClosed}
	}
	if m.stopped != nil {
		cause := m.stopped
		m.mu.Unlock()
		return nil, &TransportError{Command: req.Command, Err: cause}
	}
	if req.Priority {
		m.queue = append([]*commandRequest{r}, m.queue...)
	} else {
		m.queue = append(m.queue, r)
	}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return r, nil
}

func (m *Modem) dequeue() *commandRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	r := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return r
}

// abortQueued fails every queued command once the Loop has stopped and
// makes later submissions fail with the same cause.
func (m *Modem) abortQueued(cause error) {
	if cause == nil {
		cause = ErrAlreadyClosed
	}
	m.mu.Lock()
	m.stopped = cause
	queued := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, r := range queued {
		m.complete(r, "", &TransportError{Command: r.req.Command, Err: cause})
	}
}

func (m *Modem) complete(r *commandRequest, response string, err error) {
	if r.respChan == nil {
		m.logger.Debug("ignored reply", "command", redact(r.wire), "response", response, "error", err)
		return
	}
	r.respChan <- commandResponse{response: response, err: err}
}

// redact hides the code of a PIN entry command.
func redact(cmd string) string {
	if i := strings.Index(cmd, "+CPIN="); i >= 0 {
		return cmd[:i+len("+CPIN=")] + "***"
	}
	return cmd
}

func (m *Modem) cached(cmd string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.cache[cmd]
	return resp, ok
}

func (m *Modem) store(cmd, resp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.cache[cmd] = resp
	}
}

// init performs the initial setup sequence for the modem hardware.
// This method is called during New() and must complete successfully
// before the modem can be used.
func (m *Modem) init(ctx context.Context) error {
	// 1. Wake-up / sanity check
	if err := m.expectOkDirect(ctx, at.CmdAt); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}

	if err := m.expectOkDirect(ctx, at.CmdEchoOff); err != nil {
		return fmt.Errorf("could not disable echo: %w", err)
	}

	if err := m.expectOkDirect(ctx, at.CmdVerboseErrors); err != nil {
		return fmt.Errorf("could not enable verbose errors: %w", err)
	}

	return nil
}

// execDirect executes an AT command directly on the transport without
// using the queue and handles the complete request-response
// cycle including timeout management. It is used during modem initialization
// when the Loop is not yet running.
//
// WARNING: This method should only be used during initialization.
// Use Submit() for normal operations.
func (m *Modem) execDirect(ctx context.Context, cmd string) (string, error) {
	if m.transport == nil {
		return "", ErrNotInitialized
	}

	if _, ok := ctx.Deadline(); !ok && m.config.atTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.atTimeout)
		defer cancel()
	}

	wire := strings.TrimSpace(cmd) + "\r"
	if _, err := m.transport.Write([]byte(wire)); err != nil {
		return "", fmt.Errorf("write command %q: %w", cmd, err)
	}

	scanner := bufio.NewScanner(m.transport)
	scanner.Split(at.Splitter)

	var lines []string

	for {
		select {
		case <-ctx.Done():
			return strings.Join(lines, "\n"), ctx.Err()
		default:
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return strings.Join(lines, "\n"), fmt.Errorf("read error: %w", err)
			}
			return strings.Join(lines, "\n"), io.EOF
		}

		token := scanner.Text()
		if token == "" {
			continue
		}

		switch at.Classify(token) {
		case at.TypeFinal:
			lines = append(lines, token)
			response := strings.Join(lines, "\n")
			if token == at.OK {
				return response, nil
			}
			return response, errors.New(token)

		case at.TypeData:
			lines = append(lines, token)

		case at.TypeURC:
			// Ignore URCs in direct exec
			continue

		case at.TypePrompt:
			lines = append(lines, token)
			return strings.Join(lines, "\n"), nil
		}
	}
}

// expectOkDirect executes an AT command and validates that the response
// contains "OK". This is a convenience method for commands that should
// succeed with a simple OK response.
//
// Used during initialization for basic configuration commands.
func (m *Modem) expectOkDirect(ctx context.Context, cmd string) error {
	resp, err := m.execDirect(ctx, cmd)
	if err != nil {
		return err
	}
	if !strings.Contains(resp, at.OK) {
		return fmt.Errorf("unexpected response: %q", resp)
	}
	return nil
}
