package tor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/tornago"
)

// EmbeddedTor runs a private Tor daemon for the duration of a scan so that
// --tor works without a system Tor installation.
//
// Bootstrapping takes one to three minutes: the daemon has to fetch the
// directory and build its first circuits before the SOCKS port is usable.
type EmbeddedTor struct {
	process        *tornago.TorProcess
	socksAddr      string
	controlAddr    string
	startupTimeout time.Duration
	logger         *slog.Logger
}

// EmbeddedTorOption configures an EmbeddedTor instance.
type EmbeddedTorOption func(*EmbeddedTor)

// WithStartupTimeout sets the maximum time to wait for Tor to bootstrap.
func WithStartupTimeout(timeout time.Duration) EmbeddedTorOption {
	return func(e *EmbeddedTor) {
		if timeout > 0 {
			e.startupTimeout = timeout
		}
	}
}

// WithLogger sets the logger that reports daemon lifecycle events.
func WithLogger(logger *slog.Logger) EmbeddedTorOption {
	return func(e *EmbeddedTor) {
		e.logger = logger
	}
}

// NewEmbeddedTor creates a new embedded Tor manager.
// Call Start to launch the daemon.
func NewEmbeddedTor(opts ...EmbeddedTorOption) *EmbeddedTor {
	e := &EmbeddedTor{
		startupTimeout: 3 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Start launches the daemon on OS-assigned ports and blocks until it has
// bootstrapped, the startup timeout expires, or ctx is cancelled.
func (e *EmbeddedTor) Start(ctx context.Context) error {
	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(e.startupTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	e.logger.Info("starting embedded Tor daemon", "timeout", e.startupTimeout)

	type started struct {
		process *tornago.TorProcess
		err     error
	}
	ch := make(chan started, 1)
	go func() {
		p, err := tornago.StartTorDaemon(launchCfg)
		ch <- started{p, err}
	}()

	select {
	case <-ctx.Done():
		// Reap the daemon once it finishes starting.
		go func() {
			if s := <-ch; s.err == nil {
				_ = s.process.Stop() //nolint:errcheck // best effort cleanup
			}
		}()
		return ctx.Err()
	case s := <-ch:
		if s.err != nil {
			return fmt.Errorf("failed to start embedded Tor daemon: %w", s.err)
		}
		e.process = s.process
	}

	e.socksAddr = e.process.SocksAddr()
	e.controlAddr = e.process.ControlAddr()
	e.logger.Info("embedded Tor daemon ready", "socks", e.socksAddr)
	return nil
}

// Stop shuts the daemon down. It is safe to call on an unstarted or
// already stopped instance.
func (e *EmbeddedTor) Stop() error {
	if e.process == nil {
		return nil
	}
	err := e.process.Stop()
	e.process = nil
	e.socksAddr = ""
	e.controlAddr = ""
	return err
}

// SocksAddr returns the SOCKS5 address ("host:port") of the running daemon,
// or an empty string if it is not running.
func (e *EmbeddedTor) SocksAddr() string {
	return e.socksAddr
}

// ControlAddr returns the control port address of the running daemon.
func (e *EmbeddedTor) ControlAddr() string {
	return e.controlAddr
}

// IsRunning reports whether the daemon has been started and not stopped.
func (e *EmbeddedTor) IsRunning() bool {
	return e.process != nil
}

// Check verifies the running daemon's SOCKS port.
func (e *EmbeddedTor) Check(ctx context.Context) error {
	if !e.IsRunning() {
		return ErrNotRunning
	}
	return CheckProxy(ctx, e.socksAddr).Error()
}
