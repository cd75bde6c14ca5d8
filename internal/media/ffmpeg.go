package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProgressUpdate captures ffmpeg progress output.
type ProgressUpdate struct {
	Percent float64
	Message string
}

// Downloader defines the behaviour required by the download runner.
type Downloader interface {
	Fetch(ctx context.Context, inputURL, outputPath string, duration time.Duration, progress func(ProgressUpdate)) error
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onOutput func(string)) error
}

// Option configures the client.
type Option func(*FFmpeg)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(f *FFmpeg) {
		if exec != nil {
			f.exec = exec
		}
	}
}

// FFmpeg wraps ffmpeg CLI interactions for audio extraction.
type FFmpeg struct {
	binary  string
	timeout time.Duration
	exec    Executor
}

// NewFFmpeg constructs an ffmpeg client.
func NewFFmpeg(binary string, timeoutSeconds int, opts ...Option) (*FFmpeg, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("ffmpeg binary required")
	}
	client := &FFmpeg{
		binary:  binary,
		timeout: time.Duration(timeoutSeconds) * time.Second,
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Fetch pulls the input stream and transcodes it to mp3 at outputPath.
// Progress percent is derived from ffmpeg time= lines against the known
// duration; with an unknown duration only message updates are emitted.
func (f *FFmpeg) Fetch(ctx context.Context, inputURL, outputPath string, duration time.Duration, progress func(ProgressUpdate)) error {
	if inputURL == "" {
		return errors.New("input url required")
	}
	if outputPath == "" {
		return errors.New("output path required")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	runCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	args := []string{
		"-y",
		"-i", inputURL,
		"-vn",
		"-acodec", "libmp3lame",
		"-q:a", "2",
		outputPath,
	}

	if err := f.exec.Run(runCtx, f.binary, args, func(line string) {
		if progress == nil {
			return
		}
		if update, ok := parseProgressLine(line, duration); ok {
			progress(update)
		}
	}); err != nil {
		return fmt.Errorf("ffmpeg fetch: %w", err)
	}
	return nil
}

var timeLinePattern = regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`)

func parseProgressLine(line string, total time.Duration) (ProgressUpdate, bool) {
	matches := timeLinePattern.FindStringSubmatch(line)
	if matches == nil {
		return ProgressUpdate{}, false
	}

	hours, _ := strconv.Atoi(matches[1])
	minutes, _ := strconv.Atoi(matches[2])
	seconds, _ := strconv.ParseFloat(matches[3], 64)
	elapsed := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))

	update := ProgressUpdate{Message: fmt.Sprintf("processed %s", elapsed.Round(time.Second))}
	if total > 0 {
		percent := float64(elapsed) / float64(total) * 100
		if percent > 100 {
			percent = 100
		}
		update.Percent = percent
	}
	return update, true
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		scanner.Split(scanLinesOrCarriage)
		for scanner.Scan() {
			if onOutput != nil {
				onOutput(scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return err
	}
	return scanErr
}

// scanLinesOrCarriage splits on \n and bare \r so ffmpeg's in-place
// progress updates surface as individual lines.
func scanLinesOrCarriage(data []byte, atEOF bool) (int, []byte, error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
