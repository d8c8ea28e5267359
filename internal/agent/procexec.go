package agent

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// cliLogger is the minimal logging interface required by the CLI-backed
// agent adapters (Claude, Codex). It accepts a message and structured
// key-value pairs, matching the Debug signature of the project's structured
// loggers.
type cliLogger interface {
	Debug(msg string, keyvals ...interface{})
}

// runCLIProcess starts cmd, captures stdout/stderr into memory, waits for
// exit, and converts the result into a RunResult with rate-limit detection
// applied to the combined output. It is the process-exec core shared by
// every CLI adapter: each adapter only differs in how it builds args and
// env, not in how it runs the resulting command and reports the outcome.
//
// cmd must already have its process group configured via setProcGroup so
// that context cancellation and the work-item timeout enforcer can kill
// the whole subprocess tree, not just the direct child.
func runCLIProcess(cmd *exec.Cmd, logger cliLogger, logName string, parseRateLimit func(string) (*RateLimitInfo, bool)) (*RunResult, error) {
	start := time.Now()

	if logger != nil {
		logger.Debug("running "+logName,
			"command", cmd.Path,
			"args", cmd.Args,
			"work_dir", cmd.Dir,
		)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	var (
		stdoutBuf bytes.Buffer
		stderrBuf bytes.Buffer
		wg        sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = stdoutBuf.ReadFrom(stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		_, _ = stderrBuf.ReadFrom(stderrPipe)
	}()

	if err := cmd.Start(); err != nil {
		// Drain goroutines: Go closes the write ends of the pipes on Start
		// failure, so ReadFrom will return EOF and the goroutines will exit.
		wg.Wait()
		return nil, fmt.Errorf("starting %s: %w", logName, err)
	}

	// Wait for all output to be drained before calling Wait.
	wg.Wait()

	waitErr := cmd.Wait()
	duration := time.Since(start)

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// Non-exit error (e.g. process was killed by signal without an
			// ExitError). The output collected so far is discarded.
			return nil, fmt.Errorf("waiting for %s: %w", logName, waitErr)
		}
	}

	combined := stdoutBuf.String() + stderrBuf.String()
	rateLimit, _ := parseRateLimit(combined)

	return &RunResult{
		Stdout:    stdoutBuf.String(),
		Stderr:    stderrBuf.String(),
		ExitCode:  exitCode,
		Duration:  duration,
		RateLimit: rateLimit,
	}, nil
}

// baseExecEnv returns the process environment (os.Environ) with extra
// appended, used by adapters to build an *exec.Cmd's Env.
func baseExecEnv(extra ...string) []string {
	env := os.Environ()
	env = append(env, extra...)
	return env
}

// withWorkDir sets cmd.Dir when dir is non-empty.
func withWorkDir(cmd *exec.Cmd, dir string) {
	if dir != "" {
		cmd.Dir = dir
	}
}
