package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spachava753/simeval/internal/codec"
	"github.com/spachava753/simeval/internal/models"
)

// WorkerIDEnv is set in every simulator process to the owning worker's id.
const WorkerIDEnv = "SIMEVAL_WORKER_ID"

// closeGrace is how long Close waits for a simulator to exit before
// killing it.
const closeGrace = 10 * time.Second

// ExecProvider launches one simulator process per instance and drives it
// over stdin/stdout with the stdio protocol.
type ExecProvider struct {
	command string
	args    []string
	env     map[string]string
}

// NewExecProvider creates a provider for the given simulator command.
func NewExecProvider(command string, args []string, env map[string]string) *ExecProvider {
	return &ExecProvider{command: command, args: args, env: env}
}

func (p *ExecProvider) Name() string {
	return "exec"
}

func (p *ExecProvider) NewInstance(ctx context.Context, workerID int) (Instance, error) {
	cmd := exec.Command(p.command, p.args...)
	cmd.Env = os.Environ()
	for k, v := range p.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env, workerEnv(workerID))
	return startProcess(cmd)
}

func workerEnv(workerID int) string {
	return fmt.Sprintf("%s=%d", WorkerIDEnv, workerID)
}

// startProcess starts cmd and wraps its stdin/stdout in the stdio protocol.
// The process's stderr is passed through.
func startProcess(cmd *exec.Cmd) (*ExecInstance, error) {
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fault("starting simulator", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fault("starting simulator", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fault("starting simulator", fmt.Errorf("%s: %w", cmd.Path, err))
	}

	return &ExecInstance{
		cmd:        cmd,
		stdin:      stdin,
		enc:        codec.NewEncoder(stdin),
		dec:        codec.NewDecoder(stdout),
		closeGrace: closeGrace,
	}, nil
}

// ExecInstance is a running simulator process.
type ExecInstance struct {
	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	enc        *codec.Encoder
	dec        *codec.Decoder
	dead       error
	closed     bool
	closeGrace time.Duration
	// onExit runs after the process has exited.
	onExit func() error
}

// PID returns the process id of the simulator.
func (e *ExecInstance) PID() int {
	return e.cmd.Process.Pid
}

func (e *ExecInstance) Reset(ctx context.Context, spec models.TrialSpec) (models.Observation, error) {
	resp, err := e.call(ctx, stdioRequest{Op: OpReset, Spec: &spec})
	if err != nil {
		return models.Observation{}, err
	}
	if resp.Observation == nil {
		return models.Observation{}, faultf(OpReset, "response has no observation")
	}
	return *resp.Observation, nil
}

func (e *ExecInstance) Step(ctx context.Context, action models.ActionCommand) (StepResult, error) {
	resp, err := e.call(ctx, stdioRequest{Op: OpStep, Action: &action})
	if err != nil {
		return StepResult{}, err
	}
	if resp.Result == nil {
		return StepResult{}, faultf(OpStep, "response has no result")
	}
	return *resp.Result, nil
}

// call writes one request and reads its response. A cancelled ctx kills the
// process, since a half-finished exchange leaves the stream unusable.
func (e *ExecInstance) call(ctx context.Context, req stdioRequest) (stdioResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dead != nil {
		return stdioResponse{}, fault(req.Op, e.dead)
	}
	if err := ctx.Err(); err != nil {
		return stdioResponse{}, err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			e.cmd.Process.Kill()
		case <-done:
		}
	}()
	defer close(done)

	var resp stdioResponse
	err := e.enc.Encode(req)
	if err == nil {
		err = e.dec.Decode(&resp)
	}
	if err != nil {
		if ctx.Err() != nil {
			e.dead = ctx.Err()
			return stdioResponse{}, ctx.Err()
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = errors.New("simulator process exited")
		}
		e.dead = err
		return stdioResponse{}, fault(req.Op, err)
	}
	if !resp.OK {
		return stdioResponse{}, faultf(req.Op, "%s", resp.Error)
	}
	return resp, nil
}

// Close asks the process to exit and waits for it. A process still running
// after the grace period is killed.
func (e *ExecInstance) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var killed atomic.Bool
	timer := time.AfterFunc(e.closeGrace, func() {
		killed.Store(true)
		e.cmd.Process.Kill()
	})
	defer timer.Stop()

	if e.dead == nil {
		if err := e.enc.Encode(stdioRequest{Op: OpClose}); err == nil {
			var resp stdioResponse
			e.dec.Decode(&resp)
		}
	} else {
		e.cmd.Process.Kill()
	}
	e.stdin.Close()

	err := e.cmd.Wait()
	switch {
	case killed.Load():
		err = faultf(OpClose, "simulator did not exit within %s", e.closeGrace)
	case e.dead == nil && err != nil:
		err = fmt.Errorf("waiting for simulator: %w", err)
	default:
		err = nil
	}
	if e.onExit != nil {
		if exitErr := e.onExit(); exitErr != nil && err == nil {
			err = exitErr
		}
	}
	return err
}
