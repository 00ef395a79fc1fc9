package live

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"sync"

	"github.com/dgnsrekt/lectern/internal/fault"
)

// Microphone captures mono float32 audio.
type Microphone interface {
	// Open starts capture. Frames of frameSamples samples at sampleRate are
	// delivered until Close is called, ctx is done, or the input ends.
	Open(ctx context.Context, sampleRate, frameSamples int) (<-chan []float32, error)
	// Close stops capture and releases the device.
	Close() error
}

// ReaderMicrophone reads float32 little-endian samples from a stream. The
// final short frame is delivered as is.
type ReaderMicrophone struct {
	open func(ctx context.Context, sampleRate int) (io.ReadCloser, error)

	mu   sync.Mutex
	rc   io.ReadCloser
	stop chan struct{}
	done chan struct{}
}

var _ Microphone = (*ReaderMicrophone)(nil)

// NewReaderMicrophone captures from r. Closing the microphone closes r when
// it implements io.Closer.
func NewReaderMicrophone(r io.Reader) *ReaderMicrophone {
	return &ReaderMicrophone{
		open: func(context.Context, int) (io.ReadCloser, error) {
			if rc, ok := r.(io.ReadCloser); ok {
				return rc, nil
			}
			return io.NopCloser(r), nil
		},
	}
}

// NewCommandMicrophone captures from the stdout of a recorder command, for
// example arecord. The literal argument "{rate}" is replaced by the sample
// rate.
func NewCommandMicrophone(name string, args ...string) *ReaderMicrophone {
	return &ReaderMicrophone{
		open: func(ctx context.Context, sampleRate int) (io.ReadCloser, error) {
			argv := make([]string, len(args))
			for i, a := range args {
				if a == "{rate}" {
					a = strconv.Itoa(sampleRate)
				}
				argv[i] = a
			}
			cmd := exec.CommandContext(ctx, name, argv...)
			stdout, err := cmd.StdoutPipe()
			if err != nil {
				return nil, err
			}
			if err := cmd.Start(); err != nil {
				return nil, err
			}
			return &commandReader{ReadCloser: stdout, cmd: cmd}, nil
		},
	}
}

// ArecordMicrophone captures from the default ALSA device.
func ArecordMicrophone() *ReaderMicrophone {
	return NewCommandMicrophone("arecord", "-q", "-t", "raw", "-f", "FLOAT_LE", "-c", "1", "-r", "{rate}")
}

type commandReader struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (c *commandReader) Close() error {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	_ = c.ReadCloser.Close()
	_ = c.cmd.Wait()
	return nil
}

// Open starts reading frames.
func (m *ReaderMicrophone) Open(ctx context.Context, sampleRate, frameSamples int) (<-chan []float32, error) {
	if frameSamples <= 0 {
		return nil, fault.Invalid(component, "open microphone", "frame size must be positive, got %d", frameSamples)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rc != nil {
		return nil, fault.New(fault.ResourceAcquisition, component, "open microphone", errors.New("microphone already open"))
	}

	rc, err := m.open(ctx, sampleRate)
	if err != nil {
		return nil, fault.New(fault.ResourceAcquisition, component, "open microphone",
			fmt.Errorf("%w: %v", fault.ErrDeviceDenied, err))
	}
	m.rc = rc
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	frames := make(chan []float32, 4)
	go m.read(ctx, rc, frameSamples, frames, m.stop, m.done)
	return frames, nil
}

func (m *ReaderMicrophone) read(ctx context.Context, r io.Reader, frameSamples int, frames chan<- []float32, stop, done chan struct{}) {
	defer close(done)
	defer close(frames)

	raw := make([]byte, frameSamples*4)
	for {
		n, err := io.ReadFull(r, raw)
		if n >= 4 {
			frame := make([]float32, n/4)
			for i := range frame {
				frame[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
			}
			select {
			case frames <- frame:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Close stops capture. It is safe to call more than once.
func (m *ReaderMicrophone) Close() error {
	m.mu.Lock()
	rc, stop, done := m.rc, m.stop, m.done
	m.rc = nil
	m.mu.Unlock()
	if rc == nil {
		return nil
	}

	close(stop)
	err := rc.Close()
	<-done
	return err
}
