package aiworker

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Transport is the byte-stream connection to a running worker process.
type Transport interface {
	// Writer accepts NDJSON job lines destined for the worker's stdin.
	Writer() io.Writer
	// Reader yields the worker's stdout stream.
	Reader() io.Reader
	// CloseInput closes the worker's stdin, signalling no further jobs.
	CloseInput() error
	// Kill forcefully terminates the worker and its process group.
	Kill() error
	// Wait blocks until the worker process exits.
	Wait() error
}

// Launcher starts a worker process and returns its transport.
type Launcher func(ctx context.Context) (Transport, error)

// CommandLauncher launches the worker as a child process in its own
// process group so Kill reaps helpers the worker may spawn.
func CommandLauncher(command string, args ...string) Launcher {
	return func(ctx context.Context) (Transport, error) {
		cmd := exec.CommandContext(ctx, command, args...) //nolint:gosec
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start worker: %w", err)
		}

		return &processTransport{cmd: cmd, stdin: stdin, stdout: stdout}, nil
	}
}

type processTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (t *processTransport) Writer() io.Writer { return t.stdin }
func (t *processTransport) Reader() io.Reader { return t.stdout }

func (t *processTransport) CloseInput() error {
	return t.stdin.Close()
}

func (t *processTransport) Kill() error {
	if t.cmd.Process == nil {
		return nil
	}
	pgid, err := unix.Getpgid(t.cmd.Process.Pid)
	if err == nil {
		return unix.Kill(-pgid, unix.SIGKILL)
	}
	return t.cmd.Process.Kill()
}

func (t *processTransport) Wait() error {
	return t.cmd.Wait()
}
