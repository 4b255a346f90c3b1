package proc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"finetune-orchestrator/internal/domain/model"
)

// maxLineSize bounds a single captured output line. Trainer logs are line
// oriented; anything longer is split by the scanner.
const maxLineSize = 1024 * 1024

// killGrace is how long a process group gets between the graceful
// termination signal and the force kill.
const killGrace = 2 * time.Second

// LineFunc receives every non-empty output line, tagged with its source
// stream, before the next line of that stream is read.
type LineFunc func(stream model.OutputStream, line string)

// Command describes one child-process invocation.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Env     map[string]string // overlaid on the parent environment
	Timeout time.Duration     // wall clock from spawn; 0 means no timeout
	OnLine  LineFunc
}

// Runner launches child processes, drains stdout and stderr concurrently and
// enforces the wall-clock budget by terminating the whole process group.
type Runner struct {
	log *zerolog.Logger
}

func NewRunner(log *zerolog.Logger) *Runner {
	return &Runner{log: log}
}

// Run blocks until the process has exited (or been killed) and both streams
// are drained. Ordering between stdout and stderr lines is not guaranteed,
// only ordering within each stream.
//
// On timeout or context cancellation the process group is terminated and the
// result carries ExitCode -1 plus a message naming the cause in Stderr; err
// stays nil so callers can classify the captured output. A non-nil err means
// the process could not be started at all.
func (r *Runner) Run(ctx context.Context, cmd Command) (*model.ProcessResult, error) {
	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = overlayEnv(cmd.Env)
	setupProcessGroup(c)

	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	r.log.Info().Str("cmd", cmd.Path).Strs("args", cmd.Args).Str("dir", cmd.Dir).Msg("starting command")
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go r.drain(&wg, stdout, model.StreamStdout, &outBuf, cmd.OnLine)
	go r.drain(&wg, stderr, model.StreamStderr, &errBuf, cmd.OnLine)

	// The wait goroutine closes over both stream readers: Wait must not be
	// called before the pipes are fully drained.
	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- c.Wait()
	}()

	var timeout <-chan time.Time
	if cmd.Timeout > 0 {
		t := time.NewTimer(cmd.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case waitErr := <-done:
		res := &model.ProcessResult{
			ExitCode: exitCode(c, waitErr),
			Stdout:   outBuf.String(),
			Stderr:   errBuf.String(),
		}
		r.log.Info().Str("cmd", cmd.Path).Int("exit_code", res.ExitCode).Msg("command finished")
		return res, nil

	case <-timeout:
		r.log.Warn().Str("cmd", cmd.Path).Dur("timeout", cmd.Timeout).Msg("command timed out, killing process group")
		killProcessGroup(c, killGrace)
		<-done
		msg := fmt.Sprintf("command timed out after %s", cmd.Timeout)
		return &model.ProcessResult{
			ExitCode: -1,
			Stdout:   outBuf.String(),
			Stderr:   appendLine(errBuf.String(), msg),
		}, nil

	case <-ctx.Done():
		r.log.Warn().Str("cmd", cmd.Path).Msg("command canceled, killing process group")
		killProcessGroup(c, killGrace)
		<-done
		return &model.ProcessResult{
			ExitCode: -1,
			Stdout:   outBuf.String(),
			Stderr:   appendLine(errBuf.String(), "command canceled"),
		}, nil
	}
}

// drain reads one stream line by line. Each non-empty line is buffered,
// logged at capture (so partial output of a killed process stays observable)
// and handed to onLine before the next read.
func (r *Runner) drain(wg *sync.WaitGroup, rd io.Reader, stream model.OutputStream, buf *strings.Builder, onLine LineFunc) {
	defer wg.Done()
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
		r.log.Debug().Str("stream", string(stream)).Msg(line)
		if onLine != nil {
			onLine(stream, line)
		}
	}
}

func overlayEnv(overlay map[string]string) []string {
	env := os.Environ()
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	return env
}

func exitCode(c *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if ee, ok := waitErr.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

func appendLine(s, line string) string {
	if s == "" {
		return line + "\n"
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s + line + "\n"
}
