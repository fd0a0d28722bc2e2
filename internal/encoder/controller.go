package encoder

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const defaultStopGrace = 500 * time.Millisecond

// monitorEvent is how the background monitor talks to the controller: it
// never mutates shared state directly, only sends notifications.
type monitorEvent struct {
	line string
	exit bool
	err  error
}

// Controller supervises a single encoder sidecar. The active job slot is
// shared between the caller (Start/Stop/Status) and the monitor consumer,
// so it is mutex-guarded; the only legal transitions are none→running
// (Start) and running→none (Stop, or the monitor observing exit).
type Controller struct {
	bin    string
	gstBin string
	grace  time.Duration
	logger zerolog.Logger

	mu        sync.Mutex
	gen       uint64
	job       *Job
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	done      chan struct{}
	startedAt time.Time
	lastError string
}

func New(bin, gstBin string, grace time.Duration) *Controller {
	if bin == "" {
		bin = "ffmpeg"
	}
	if gstBin == "" {
		gstBin = "gst-launch-1.0"
	}
	if grace <= 0 {
		grace = defaultStopGrace
	}
	return &Controller{
		bin:    bin,
		gstBin: gstBin,
		grace:  grace,
		logger: log.With().Str("module", "encoder").Logger(),
	}
}

// Start spawns the encoder for the given job. Rejects with
// ErrAlreadyStreaming while a job is active; the original job is
// unaffected by a rejected call.
func (c *Controller) Start(job Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job != nil {
		return ErrAlreadyStreaming
	}

	bin := c.bin
	args := BuildArgs(job)
	if job.Backend == BackendGStreamer {
		bin = c.gstBin
		args = BuildGstArgs(job)
	}
	c.logger.Info().Str("bin", bin).Strs("args", args).Msg("starting encoder")

	cmd := exec.Command(bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &SpawnError{Bin: bin, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &SpawnError{Bin: bin, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &SpawnError{Bin: bin, Err: err}
	}

	if err := cmd.Start(); err != nil {
		notFound := errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
		return &SpawnError{Bin: bin, NotFound: notFound, Err: err}
	}

	c.gen++
	gen := c.gen
	jobCopy := job
	c.job = &jobCopy
	c.cmd = cmd
	c.stdin = stdin
	c.startedAt = time.Now()
	c.lastError = ""
	done := make(chan struct{})
	c.done = done

	events := make(chan monitorEvent, 64)
	go monitor(cmd, stdout, stderr, events)
	go c.consume(gen, events, done)
	return nil
}

// monitor reads the sidecar's diagnostic output line-by-line and reports
// the process exit. It owns no controller state.
func monitor(cmd *exec.Cmd, stdout, stderr io.Reader, events chan<- monitorEvent) {
	var wg conc.WaitGroup
	scan := func(r io.Reader) func() {
		return func() {
			sc := bufio.NewScanner(r)
			for sc.Scan() {
				events <- monitorEvent{line: sc.Text()}
			}
		}
	}
	wg.Go(scan(stdout))
	wg.Go(scan(stderr))
	wg.Wait()

	err := cmd.Wait()
	events <- monitorEvent{exit: true, err: err}
	close(events)
}

// consume applies monitor notifications to the job slot. The generation
// check makes a late exit for a job that Stop already cleared a safe
// no-op.
func (c *Controller) consume(gen uint64, events <-chan monitorEvent, done chan struct{}) {
	defer close(done)
	for ev := range events {
		if ev.exit {
			c.observeExit(gen, ev.err)
			continue
		}
		c.logger.Debug().Str("bin", c.bin).Msg(ev.line)
		if hasErrorMarker(ev.line) {
			c.observeLine(gen, ev.line)
		}
	}
}

// hasErrorMarker is a best-effort heuristic over log text. It feeds the
// lastError display slot only; state transitions come from structural
// events (exit), never from matched lines.
func hasErrorMarker(line string) bool {
	return strings.Contains(line, "error") ||
		strings.Contains(line, "Error") ||
		strings.Contains(line, "ERROR")
}

func (c *Controller) observeLine(gen uint64, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.lastError = line
}

func (c *Controller) observeExit(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.clearLocked()
	c.mu.Unlock()
	c.logger.Info().Err(err).Msg("encoder exited")
}

// clearLocked empties the job slot and invalidates the running monitor's
// generation. Caller holds c.mu.
func (c *Controller) clearLocked() {
	c.gen++
	c.job = nil
	c.cmd = nil
	c.stdin = nil
	c.done = nil
	c.startedAt = time.Time{}
}

// Stop is idempotent. Graceful path first: a single quit byte on the
// encoder's stdin, a grace period, then a forced kill. Job state is
// cleared regardless of which path ran; status().Active is false the
// moment Stop returns.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.job == nil {
		c.mu.Unlock()
		return
	}
	cmd := c.cmd
	stdin := c.stdin
	done := c.done
	c.clearLocked()
	c.mu.Unlock()

	if stdin != nil {
		_, _ = stdin.Write([]byte("q"))
		_ = stdin.Close()
	}

	select {
	case <-done:
	case <-time.After(c.grace):
		c.logger.Info().Msg("grace period elapsed, killing encoder")
		if cmd != nil && cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				c.logger.Error().Err(err).Msg("kill failed")
			}
		}
	}
}

// Status is computed from the guarded job slot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Active:    c.job != nil,
		LastError: c.lastError,
	}
	if c.job != nil {
		st.SourceID = c.job.SourceID
		st.IngestURL = c.job.IngestURL
		st.DurationSeconds = int64(time.Since(c.startedAt).Seconds())
	}
	return st
}
