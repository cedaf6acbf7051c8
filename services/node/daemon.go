package node

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"go.uber.org/atomic"
)

// DaemonEnv marks a process as started by the supervisor to run a node.
const DaemonEnv = "NODEKEEPER_DAEMON"

const maxLineSize = 1024 * 1024

type DaemonOptions struct {
	// TerminateWithSignal sends SIGTERM and waits GracePeriod before killing. The default is SIGKILL,
	// a node in the middle of a sync can take minutes to honour SIGTERM.
	TerminateWithSignal bool
	GracePeriod         time.Duration
}

// Daemon owns a node subprocess and relays its stdout, line by line, to a channel.
type Daemon struct {
	logger  ulogger.Logger
	kind    BackendKind
	path    string
	args    []string
	options DaemonOptions
	out     chan<- string

	cmd      *exec.Cmd
	running  atomic.Bool
	stopping chan struct{}
	stopOnce sync.Once
	exited   chan struct{}

	mu      sync.Mutex
	exitErr error
}

// NewDaemon prepares a daemon. An empty path runs the current executable.
func NewDaemon(logger ulogger.Logger, kind BackendKind, path string, args []string, options DaemonOptions, out chan<- string) *Daemon {
	return &Daemon{
		logger:   logger,
		kind:     kind,
		path:     path,
		args:     args,
		options:  options,
		out:      out,
		stopping: make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

func (d *Daemon) Kind() BackendKind {
	return d.kind
}

func (d *Daemon) Start() error {
	path := d.path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return errors.NewProcessSpawnError("[NodeServer] unable to locate the current executable", err)
		}

		path = exe
	}

	cmd := exec.Command(path, d.args...)
	cmd.Env = append(os.Environ(), DaemonEnv+"=1")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.NewProcessSpawnError("[NodeServer] unable to capture stdout of %s", path, err)
	}

	if err = cmd.Start(); err != nil {
		return errors.NewProcessSpawnError("[NodeServer] unable to start %s", path, err)
	}

	d.cmd = cmd
	d.running.Store(true)

	d.logger.Infof("[NodeServer] started node process %s (pid %d)", path, cmd.Process.Pid)

	go d.relay(stdout)

	return nil
}

func (d *Daemon) relay(stdout io.Reader) {
	defer close(d.exited)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		select {
		case d.out <- scanner.Text():
		case <-d.stopping:
		}
	}

	// Wait must only be called once all reads from the pipe are done
	err := d.cmd.Wait()

	d.mu.Lock()
	d.exitErr = err
	d.mu.Unlock()

	d.running.Store(false)
}

func (d *Daemon) IsRunning() bool {
	return d.running.Load()
}

func (d *Daemon) Pid() int {
	if d.cmd == nil || d.cmd.Process == nil {
		return 0
	}

	return d.cmd.Process.Pid
}

// Exited is closed when the process is gone.
func (d *Daemon) Exited() <-chan struct{} {
	return d.exited
}

// ExitErr returns the error from waiting on the process, valid once Exited is closed.
func (d *Daemon) ExitErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.exitErr
}

// Stopping reports whether Stop was called.
func (d *Daemon) Stopping() bool {
	select {
	case <-d.stopping:
		return true
	default:
		return false
	}
}

func (d *Daemon) Stop(ctx context.Context) error {
	if d.cmd == nil {
		return nil
	}

	d.stopOnce.Do(func() { close(d.stopping) })

	if !d.IsRunning() {
		<-d.exited
		return nil
	}

	if d.options.TerminateWithSignal {
		if err := d.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			d.logger.Warnf("[NodeServer] unable to send SIGTERM to pid %d: %v", d.cmd.Process.Pid, err)
		}

		grace := time.NewTimer(d.options.GracePeriod)
		defer grace.Stop()

		select {
		case <-d.exited:
			return nil
		case <-grace.C:
			d.logger.Warnf("[NodeServer] node process %d did not exit within %s, killing it", d.cmd.Process.Pid, d.options.GracePeriod)
		case <-ctx.Done():
		}
	}

	if err := d.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		d.logger.Warnf("[NodeServer] unable to kill pid %d: %v", d.cmd.Process.Pid, err)
	}

	select {
	case <-d.exited:
		return nil
	case <-ctx.Done():
		return errors.NewContextError("[NodeServer] node process %d did not exit", d.cmd.Process.Pid, ctx.Err())
	}
}
