package tracker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const DefaultBinary = "idtrackerai"

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

// Request describes one tracking invocation.
type Request struct {
	SettingsPath      string
	OutputRoot        string
	KnowledgeTransfer string
	ExtraArgs         []string
	WorkDir           string
	Stdout            io.Writer
	Stderr            io.Writer
	LogWriter         io.Writer
	EchoOutput        bool
	Progress          func(stream OutputStream, line string)
}

type DependencyReport struct {
	Binary       string `json:"binary"`
	TrackerFound bool   `json:"tracker_found"`
	TrackerPath  string `json:"tracker_path,omitempty"`
}

// Client runs the external tracker binary. With a positive KillGrace an
// interrupted run first receives SIGINT and is killed only after the grace
// period.
type Client struct {
	Binary    string
	KillGrace time.Duration
}

func NewClient(binary string) *Client {
	return &Client{Binary: strings.TrimSpace(binary)}
}

func (c *Client) binary() string {
	if c == nil || strings.TrimSpace(c.Binary) == "" {
		return DefaultBinary
	}
	return strings.TrimSpace(c.Binary)
}

func (c *Client) DependencyStatus() DependencyReport {
	report := DependencyReport{Binary: c.binary()}
	if path, err := exec.LookPath(c.binary()); err == nil {
		report.TrackerFound = true
		report.TrackerPath = path
	}
	return report
}

func (c *Client) CheckDependencies() error {
	if !c.DependencyStatus().TrackerFound {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", c.binary())
	}
	return nil
}

func BuildArgs(req Request) ([]string, error) {
	if strings.TrimSpace(req.SettingsPath) == "" {
		return nil, fmt.Errorf("settings path is required")
	}
	if strings.TrimSpace(req.OutputRoot) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	args := []string{
		"--load", req.SettingsPath,
		"--track",
		"--output_dir", req.OutputRoot,
	}
	if kt := strings.TrimSpace(req.KnowledgeTransfer); kt != "" {
		args = append(args, "--knowledge_transfer_folder", kt)
	}
	args = append(args, req.ExtraArgs...)
	return args, nil
}

// Track runs one tracking job to completion. A non-nil error only says the
// process exited abnormally; the tracker reports failure through its log,
// not reliably through its exit status.
func (c *Client) Track(ctx context.Context, req Request) error {
	args, err := BuildArgs(req)
	if err != nil {
		return err
	}
	return c.runCommand(ctx, args, req)
}

// LaunchGUI starts the tracker's interactive window in dir and waits for it
// to close.
func (c *Client) LaunchGUI(ctx context.Context, dir string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, c.binary())
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s gui: %w", c.binary(), err)
	}
	return nil
}

func (c *Client) runCommand(ctx context.Context, args []string, req Request) error {
	cmd := exec.CommandContext(ctx, c.binary(), args...)
	if strings.TrimSpace(req.WorkDir) != "" {
		cmd.Dir = req.WorkDir
	}
	if c.KillGrace > 0 {
		cmd.Cancel = func() error {
			return cmd.Process.Signal(os.Interrupt)
		}
		cmd.WaitDelay = c.KillGrace
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("setup stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.binary(), err)
	}

	var outBuf strings.Builder
	var errBuf strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup

	read := func(stream OutputStream, r io.Reader, echoW io.Writer) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			appendLimited(&outBuf, &errBuf, stream, line)
			if req.LogWriter != nil {
				_, _ = io.WriteString(req.LogWriter, line+"\n")
			}
			mu.Unlock()

			if req.EchoOutput && echoW != nil {
				_, _ = io.WriteString(echoW, line+"\n")
			}
			if req.Progress != nil {
				req.Progress(stream, line)
			}
		}
		if err := scanner.Err(); err != nil {
			mu.Lock()
			appendLimited(&outBuf, &errBuf, stream, "[trackq] output reader stopped: "+err.Error())
			if req.LogWriter != nil {
				_, _ = io.WriteString(req.LogWriter, "[trackq] output reader stopped: "+err.Error()+"\n")
			}
			mu.Unlock()
		}
		// Keep the pipe drained so the child never blocks on a full buffer.
		_, _ = io.Copy(io.Discard, r)
	}

	wg.Add(2)
	go read(StreamStdout, stdoutPipe, req.Stdout)
	go read(StreamStderr, stderrPipe, req.Stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s interrupted: %w", c.binary(), errors.Join(ctxErr, err))
		}
		mu.Lock()
		defer mu.Unlock()
		return fmt.Errorf("%s exited abnormally: %w\n%s\n%s", c.binary(), err, strings.TrimSpace(errBuf.String()), strings.TrimSpace(outBuf.String()))
	}
	return nil
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// appendLimited keeps the first few KiB of each stream for error messages.
func appendLimited(outBuf, errBuf *strings.Builder, stream OutputStream, line string) {
	const maxKeep = 8192
	b := outBuf
	if stream == StreamStderr {
		b = errBuf
	}
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	remain := maxKeep - b.Len()
	if len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}
