package lsp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// LaunchConfig describes how to start a language server process. It is the
// only contract the core requires from the per-language launch catalog.
type LaunchConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	WorkDir string
}

// process owns one language server subprocess: spawn, liveness, graceful
// terminate, and exit reporting. The exit result is delivered exactly once
// on the exit channel regardless of how the process ends.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	exitCh   chan error
	exited   chan struct{}
	exitOnce sync.Once
	logger   *slog.Logger
}

// startProcess spawns the subprocess with stdio pipes. Launch errors are
// wrapped in ErrSpawnFailed. stderr is drained line by line into the
// logger so a chatty server cannot fill its pipe and stall.
func startProcess(ctx context.Context, cfg LaunchConfig, logger *slog.Logger) (*process, error) {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawnFailed, cfg.Command, err)
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		exitCh: make(chan error, 1),
		exited: make(chan struct{}),
		logger: logger,
	}

	go p.drainStderr(stderr)
	go p.wait()

	return p, nil
}

// wait reaps the process and reports its exit exactly once.
func (p *process) wait() {
	err := p.cmd.Wait()
	p.exitOnce.Do(func() {
		p.exitCh <- err
		close(p.exited)
	})
}

// drainStderr forwards server stderr lines to the logger.
func (p *process) drainStderr(stderr io.Reader) {
	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 0, 16*1024), 256*1024)
	for sc.Scan() {
		p.logger.Debug("server stderr", "line", sc.Text())
	}
}

// ExitChannel receives the process exit result once.
func (p *process) ExitChannel() <-chan error {
	return p.exitCh
}

// Alive reports whether the process has not yet been reaped.
func (p *process) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Pid returns the subprocess pid, or 0 before start.
func (p *process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Terminate closes stdin (the polite LSP exit path takes effect here),
// sends a graceful signal, waits up to grace, then force-kills.
func (p *process) Terminate(grace time.Duration) {
	p.stdin.Close()

	if p.cmd.Process != nil && p.Alive() {
		_ = p.cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-p.exited:
		return
	case <-time.After(grace):
	}

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}

	<-p.exited
}

// Kill force-terminates the process without a grace period.
func (p *process) Kill() {
	p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}
