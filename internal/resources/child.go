package resources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/Proton-105/shutdown-sequencer/pkg/config"
)

// ErrChildExited is reported by HealthCheck once the child process is gone.
var ErrChildExited = errors.New("child process exited")

// Child is a helper process started alongside the daemon. Closing it sends an
// interrupt and waits for the process to exit, bounded by ctx.
type Child struct {
	cmd *exec.Cmd
	log *slog.Logger

	exited  chan struct{}
	mu      sync.Mutex
	waitErr error
}

// StartChild launches command with args, inheriting stdout and stderr.
func StartChild(cfg config.ChildConfig, log *slog.Logger) (*Child, error) {
	if log == nil {
		log = slog.Default()
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start child %q: %w", cfg.Command, err)
	}

	c := &Child{
		cmd:    cmd,
		log:    log.With(slog.Int("pid", cmd.Process.Pid)),
		exited: make(chan struct{}),
	}
	go c.wait()

	c.log.Info("child process started", slog.String("command", cfg.Command))

	return c, nil
}

func (c *Child) wait() {
	err := c.cmd.Wait()

	c.mu.Lock()
	c.waitErr = err
	c.mu.Unlock()

	close(c.exited)
}

// Pid returns the child's process id.
func (c *Child) Pid() int {
	return c.cmd.Process.Pid
}

// Exited is closed once the process has terminated.
func (c *Child) Exited() <-chan struct{} {
	return c.exited
}

// HealthCheck fails once the child is no longer running.
func (c *Child) HealthCheck(ctx context.Context) error {
	select {
	case <-c.exited:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.waitErr != nil {
			return fmt.Errorf("%w: %v", ErrChildExited, c.waitErr)
		}
		return ErrChildExited
	default:
		return nil
	}
}

func (c *Child) Name() string { return config.ResourceChild }

// Close interrupts the child and waits for it to exit or for ctx to end.
// An exit caused by the interrupt is not an error.
func (c *Child) Close(ctx context.Context) error {
	if c == nil || c.cmd == nil || c.cmd.Process == nil {
		return nil
	}

	select {
	case <-c.exited:
		c.log.Info("child process already exited")
		return nil
	default:
	}

	if err := c.interrupt(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("signal child: %w", err)
	}
	c.log.Info("child process interrupted")

	select {
	case <-c.exited:
		c.log.Info("child process terminated")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Child) interrupt() error {
	// os.Interrupt is not deliverable to other processes on Windows
	if runtime.GOOS == "windows" {
		return c.cmd.Process.Kill()
	}
	return c.cmd.Process.Signal(os.Interrupt)
}
