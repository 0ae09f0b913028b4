package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// ExitStatus is delivered on Handle.Done exactly once per process.
type ExitStatus struct {
	// Code is the process exit code, -1 if the process was killed
	// before exiting on its own.
	Code int
	// Err is the error returned by Wait, nil on exit code zero.
	Err error
}

// Command describes one external invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
}

// Handle is the exclusive owner's view of one spawned subprocess.
type Handle interface {
	PID() int
	// StopRequest asks the process to finish its work cleanly. The
	// capture tool reads a quit command on stdin; if stdin is gone an
	// interrupt signal is sent instead.
	StopRequest() error
	// Kill terminates the process unconditionally.
	Kill() error
	// Done yields the exit status once the process has exited.
	Done() <-chan ExitStatus
}

// Spawner starts a Command and hands back its Handle. Tests inject a
// fake; production code uses Start.
type Spawner func(ctx context.Context, cmd Command) (Handle, error)

// quitCommand is what ffmpeg accepts on stdin to finish the current
// output file and exit cleanly.
const quitCommand = "q\n"

type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan ExitStatus

	stopMu sync.Mutex
}

// Start spawns cmd with stdin piped and stderr streamed line-wise to
// the debug log. It returns once the process is running; the exit
// status arrives on Done.
func Start(ctx context.Context, cmd Command) (Handle, error) {
	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir

	stdin, err := c.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("piping stdin: %w", err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("piping stderr: %w", err)
	}

	if err := c.Start(); err != nil {
		return nil, err
	}

	p := &process{
		cmd:   c,
		stdin: stdin,
		done:  make(chan ExitStatus, 1),
	}

	go p.drainStderr(ctx, stderr)
	go p.wait()
	return p, nil
}

func (p *process) drainStderr(ctx context.Context, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		slog.DebugContext(ctx, "process stderr", "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		slog.DebugContext(ctx, "reading process stderr", "error", err)
	}
}

func (p *process) wait() {
	err := p.cmd.Wait()
	st := ExitStatus{Code: p.cmd.ProcessState.ExitCode(), Err: err}
	p.done <- st
	close(p.done)
}

func (p *process) PID() int {
	return p.cmd.Process.Pid
}

func (p *process) StopRequest() error {
	p.stopMu.Lock()
	defer p.stopMu.Unlock()

	if _, err := io.WriteString(p.stdin, quitCommand); err == nil {
		return p.stdin.Close()
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("interrupting pid %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}

func (p *process) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *process) Done() <-chan ExitStatus {
	return p.done
}
