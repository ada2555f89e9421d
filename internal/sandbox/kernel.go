package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

type request struct {
	ID   int64  `json:"id"`
	Op   string `json:"op"`
	Code string `json:"code,omitempty"`
	Expr string `json:"expr,omitempty"`
}

type reply struct {
	ID     int64           `json:"id"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error"`
	Hello  *Capabilities   `json:"hello"`
	Result *Result         `json:"result"`
	Value  json.RawMessage `json:"value"`
	Repr   string          `json:"repr"`
	Truthy bool            `json:"truthy"`
}

// processKernel drives the harness over a JSON-lines pipe.
type processKernel struct {
	mu sync.Mutex

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	replies chan []byte
	stderr  *tailBuffer

	work       string
	caps       Capabilities
	runTimeout time.Duration
	seq        int64

	closed   chan struct{}
	killOnce sync.Once
	stopOnce sync.Once
	exited   chan struct{}
	waitErr  error
}

func startProcessKernel(ctx context.Context, interpreter, harness string, spec StartSpec, env []string) (*processKernel, error) {
	cmd := exec.Command(interpreter, "-u", harness)
	cmd.Dir = spec.WorkDir
	cmd.Env = env
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := &tailBuffer{max: 8 << 10}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", interpreter, err)
	}

	k := &processKernel{
		cmd:        cmd,
		stdin:      stdin,
		replies:    make(chan []byte, 1),
		stderr:     stderr,
		work:       spec.WorkDir,
		runTimeout: spec.RunTimeout,
		closed:     make(chan struct{}),
		exited:     make(chan struct{}),
	}
	go k.readLoop(stdout)

	rep, err := k.await(ctx, 0, spec.StartTimeout)
	if err != nil {
		k.kill()
		return nil, fmt.Errorf("interpreter handshake: %w", err)
	}
	if !rep.OK || rep.Hello == nil {
		k.kill()
		return nil, fmt.Errorf("interpreter handshake: unexpected reply %q", rep.Error)
	}
	k.caps = *rep.Hello
	return k, nil
}

func (k *processKernel) readLoop(r io.Reader) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			select {
			case k.replies <- line:
			case <-k.closed:
			}
		}
		if err != nil {
			break
		}
	}
	close(k.replies)
	k.waitErr = k.cmd.Wait()
	close(k.exited)
}

func (k *processKernel) Run(ctx context.Context, code string) (Result, error) {
	started := time.Now()
	rep, err := k.call(ctx, request{Op: "run", Code: code})
	if err != nil {
		return Result{}, err
	}
	if !rep.OK {
		return Result{}, fmt.Errorf("interpreter: %s", rep.Error)
	}
	if rep.Result == nil {
		return Result{}, errors.New("interpreter: run reply without result")
	}
	res := *rep.Result
	res.Duration = time.Since(started)
	return res, nil
}

func (k *processKernel) Eval(ctx context.Context, expr string) (Value, error) {
	rep, err := k.call(ctx, request{Op: "eval", Expr: expr})
	if err != nil {
		return Value{}, err
	}
	if !rep.OK {
		return Value{}, fmt.Errorf("%w: %s", ErrEvalFailed, rep.Error)
	}
	return Value{Raw: rep.Value, Repr: rep.Repr, Truthy: rep.Truthy}, nil
}

func (k *processKernel) call(ctx context.Context, req request) (reply, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.dead() {
		return reply{}, k.deadErr()
	}
	k.seq++
	req.ID = k.seq
	b, err := json.Marshal(req)
	if err != nil {
		return reply{}, err
	}
	if _, err := k.stdin.Write(append(b, '\n')); err != nil {
		k.kill()
		return reply{}, fmt.Errorf("%w: %v", ErrKernelDead, err)
	}
	return k.await(ctx, req.ID, k.runTimeout)
}

// await returns the next reply carrying id. Lines that are not replies or
// answer an earlier request are kept with the stderr tail and skipped.
func (k *processKernel) await(ctx context.Context, id int64, timeout time.Duration) (reply, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-k.replies:
			if !ok {
				return reply{}, k.deadErr()
			}
			var rep reply
			if err := json.Unmarshal(line, &rep); err != nil || rep.ID != id {
				_, _ = k.stderr.Write(line)
				continue
			}
			return rep, nil
		case <-timer.C:
			k.kill()
			return reply{}, ErrRunTimeout
		case <-ctx.Done():
			k.kill()
			return reply{}, ctx.Err()
		}
	}
}

func (k *processKernel) dead() bool {
	select {
	case <-k.closed:
		return true
	case <-k.exited:
		return true
	default:
		return false
	}
}

func (k *processKernel) deadErr() error {
	tail := strings.TrimSpace(k.stderr.String())
	if tail == "" {
		return ErrKernelDead
	}
	return fmt.Errorf("%w: %s", ErrKernelDead, tail)
}

func (k *processKernel) kill() {
	k.killOnce.Do(func() {
		close(k.closed)
		if k.cmd.Process != nil {
			_ = k.cmd.Process.Kill()
		}
	})
}

// Stop closes stdin so the harness exits on its own, killing it if it does
// not within the context deadline or two seconds.
func (k *processKernel) Stop(ctx context.Context) error {
	k.stopOnce.Do(func() {
		_ = k.stdin.Close()
		grace := time.NewTimer(2 * time.Second)
		defer grace.Stop()
		select {
		case <-k.exited:
		case <-grace.C:
			k.kill()
		case <-ctx.Done():
			k.kill()
		}
	})
	return nil
}

func (k *processKernel) Capabilities() Capabilities { return k.caps }
func (k *processKernel) WorkDir() string            { return k.work }
func (k *processKernel) IsMock() bool               { return false }

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append([]byte(nil), t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
