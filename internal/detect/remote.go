package detect

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// ErrBackend is returned when a remote backend cannot be reached.
var ErrBackend = errors.New("detect: backend unavailable")

// The remote protocol is a gob stream in each direction. The server speaks
// first with a hello, then answers every request with exactly one response.
type hello struct {
	InputSize int
}

type request struct {
	Input []float32
}

type response struct {
	Output Output
	Err    string
}

// Serve answers inference requests read from r with results written to w
// until r reaches EOF or ctx is done. A failed forward pass is reported to
// the client and does not stop the loop.
func Serve(ctx context.Context, r io.Reader, w io.Writer, b Backend) error {
	enc := gob.NewEncoder(w)
	dec := gob.NewDecoder(r)
	if err := enc.Encode(hello{InputSize: b.InputSize()}); err != nil {
		return fmt.Errorf("detect: send hello: %w", err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("detect: read request: %w", err)
		}
		out, err := b.Infer(ctx, req.Input)
		res := response{Output: out}
		if err != nil {
			slogger().Warn("detect: remote inference failed", "err", err)
			res = response{Err: err.Error()}
		}
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("detect: send response: %w", err)
		}
	}
}

// RemoteBackend is a Backend whose forward passes run on the other end of
// a stream served by Serve, typically a child process. Requests are
// serialized. After a transport failure every call fails with ErrBackend.
type RemoteBackend struct {
	mu   sync.Mutex
	enc  *gob.Encoder
	dec  *gob.Decoder
	size int
	err  error
	stop func() error
}

// NewRemoteBackend reads the server hello from r. stop, if non-nil, is
// called once by Close.
func NewRemoteBackend(r io.Reader, w io.Writer, stop func() error) (*RemoteBackend, error) {
	dec := gob.NewDecoder(r)
	var h hello
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: read hello: %w", ErrBackend, err)
	}
	if h.InputSize <= 0 {
		return nil, fmt.Errorf("%w: server reported input size %d", ErrBackend, h.InputSize)
	}
	return &RemoteBackend{
		enc:  gob.NewEncoder(w),
		dec:  dec,
		size: h.InputSize,
		stop: stop,
	}, nil
}

// InputSize returns the input resolution announced by the server.
func (b *RemoteBackend) InputSize() int { return b.size }

// Infer sends input to the server and waits for its answer. ctx is checked
// before sending; a pass in flight is not interrupted.
func (b *RemoteBackend) Infer(ctx context.Context, input []float32) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return Output{}, fmt.Errorf("%w: %w: %w", ErrInference, ErrBackend, b.err)
	}
	if err := b.enc.Encode(request{Input: input}); err != nil {
		b.err = err
		return Output{}, fmt.Errorf("%w: %w: send: %w", ErrInference, ErrBackend, err)
	}
	var res response
	if err := b.dec.Decode(&res); err != nil {
		b.err = err
		return Output{}, fmt.Errorf("%w: %w: receive: %w", ErrInference, ErrBackend, err)
	}
	if res.Err != "" {
		return Output{}, fmt.Errorf("%w: remote: %s", ErrInference, res.Err)
	}
	return res.Output, nil
}

// Close releases the transport. Safe to call more than once.
func (b *RemoteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = errors.New("closed")
	}
	fn := b.stop
	b.stop = nil
	if fn == nil {
		return nil
	}
	return fn()
}

// StartBackend runs the inference server binary at path with args and
// connects to it over its stdin and stdout. The child's stderr is shared
// with this process. Close ends the child by closing its stdin.
func StartBackend(path string, args ...string) (*RemoteBackend, error) {
	cmd := exec.Command(path, args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	slogger().Debug("detect: starting backend", "cmd", path+" "+strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %w", ErrBackend, path, err)
	}
	stop := func() error {
		cerr := stdin.Close()
		if err := cmd.Wait(); err != nil {
			return fmt.Errorf("detect: backend %s: %w", path, err)
		}
		return cerr
	}
	b, err := NewRemoteBackend(stdout, stdin, stop)
	if err != nil {
		_ = stop()
		return nil, err
	}
	slogger().Info("detect: backend started", "cmd", path, "pid", cmd.Process.Pid, "input_size", b.size)
	return b, nil
}
