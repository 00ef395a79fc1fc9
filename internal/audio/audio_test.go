package audio

import (
	"errors"
	"io"
	"testing"
	"time"
)

func TestDecodeEncodePCM16(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234}
	buf, err := DecodePCM16(EncodePCM16(samples), OutputSampleRate)
	if err != nil {
		t.Fatalf("DecodePCM16 failed: %v", err)
	}
	for i, s := range samples {
		if buf.Samples[i] != s {
			t.Errorf("sample %d = %d, want %d", i, buf.Samples[i], s)
		}
	}
}

func TestDecodePCM16Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrEmptyPCM},
		{"odd length", []byte{1, 2, 3}, ErrUnalignedPCM},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePCM16(tt.data, OutputSampleRate)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBufferDuration(t *testing.T) {
	tests := []struct {
		samples int
		rate    int
		want    time.Duration
	}{
		{24000, 24000, time.Second},
		{12000, 24000, 500 * time.Millisecond},
		{28800, 24000, 1200 * time.Millisecond},
		{16000, 16000, time.Second},
		{100, 0, 0},
	}
	for _, tt := range tests {
		b := &Buffer{Samples: make([]int16, tt.samples), SampleRate: tt.rate}
		if got := b.Duration(); got != tt.want {
			t.Errorf("Duration(%d@%d) = %v, want %v", tt.samples, tt.rate, got, tt.want)
		}
	}
	var nilBuf *Buffer
	if nilBuf.Duration() != 0 || nilBuf.Len() != 0 {
		t.Error("nil buffer should be empty")
	}
}

func TestFloatToPCM16(t *testing.T) {
	got := FloatToPCM16([]float32{0, 0.5, -0.5, 1, -1, 2, -2})
	want := []int16{0, 16384, -16384, 32767, -32768, 32767, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResample(t *testing.T) {
	b := &Buffer{Samples: make([]int16, 22050), SampleRate: 22050}
	for i := range b.Samples {
		b.Samples[i] = 1000
	}
	out := Resample(b, 24000)
	if out.SampleRate != 24000 || out.Len() != 24000 {
		t.Fatalf("resampled to %d samples @%d", out.Len(), out.SampleRate)
	}
	if out.Samples[100] != 1000 {
		t.Errorf("constant signal changed: %d", out.Samples[100])
	}
	if Resample(b, 22050) != b {
		t.Error("same-rate resample should return the input")
	}
}

func TestRateReader(t *testing.T) {
	buf := &Buffer{Samples: make([]int16, 1000), SampleRate: 24000}

	tests := []struct {
		name       string
		deviceRate int
		rate       float64
		wantBytes  int
	}{
		{"unity", 24000, 1, 2000},
		{"double speed", 24000, 2, 1000},
		{"half speed", 24000, 0.5, 4000},
		{"upsample", 48000, 1, 4000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRateReader(buf, tt.deviceRate, tt.rate)
			b, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if len(b) != tt.wantBytes {
				t.Errorf("read %d bytes, want %d", len(b), tt.wantBytes)
			}
		})
	}
}

func TestRateReaderLiveRateChange(t *testing.T) {
	buf := &Buffer{Samples: make([]int16, 1000), SampleRate: 24000}
	r := newRateReader(buf, 24000, 1)

	p := make([]byte, 1000) // 500 samples at rate 1
	if n, _ := r.Read(p); n != 1000 {
		t.Fatalf("first read = %d", n)
	}
	r.SetRate(2)
	rest, _ := io.ReadAll(r)
	if len(rest) != 500 {
		t.Errorf("remaining 500 samples at rate 2 should yield 500 bytes, got %d", len(rest))
	}
	if r.Rate() != 2 {
		t.Errorf("Rate() = %v", r.Rate())
	}
}

func TestMockOutputSchedulesAndFinishes(t *testing.T) {
	out := NewMockOutput()
	buf := &Buffer{Samples: make([]int16, 24000), SampleRate: 24000}

	src, err := out.Play(buf, 0, 1)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	out.Advance(999 * time.Millisecond)
	select {
	case <-src.Done():
		t.Fatal("source finished early")
	default:
	}
	out.Advance(time.Millisecond)
	select {
	case <-src.Done():
	default:
		t.Fatal("source should be finished after its duration")
	}
	if out.Active() != 0 {
		t.Errorf("Active() = %d", out.Active())
	}
}

func TestMockOutputFutureStartAndRate(t *testing.T) {
	out := NewMockOutput()
	out.Advance(time.Second)
	buf := &Buffer{Samples: make([]int16, 24000), SampleRate: 24000}

	past, _ := out.Play(buf, 0, 1)
	if past.Start() != time.Second {
		t.Errorf("past start should clamp to now, got %v", past.Start())
	}

	src, _ := out.Play(buf, 3*time.Second, 2)
	ms := src.(*MockSource)
	if ms.End() != 3500*time.Millisecond {
		t.Errorf("End() = %v, want 3.5s", ms.End())
	}

	out.Advance(2250 * time.Millisecond) // now 3.25s, half of src consumed
	src.SetRate(1)
	if ms.End() != 3750*time.Millisecond {
		t.Errorf("End() after rate change = %v, want 3.75s", ms.End())
	}
}

func TestMockOutputStopAndClose(t *testing.T) {
	out := NewMockOutput()
	buf := &Buffer{Samples: make([]int16, 2400), SampleRate: 24000}

	a, _ := out.Play(buf, 0, 1)
	b, _ := out.Play(buf, 0, 1)
	a.Stop()
	a.Stop()
	if !a.(*MockSource).Stopped() {
		t.Error("expected a to be stopped")
	}

	_ = out.Close()
	select {
	case <-b.Done():
	default:
		t.Error("Close should stop every source")
	}
	if _, err := out.Play(buf, 0, 1); err == nil {
		t.Error("Play after Close should fail")
	}
}

func TestMockOutputEmptyBuffer(t *testing.T) {
	out := NewMockOutput()
	if _, err := out.Play(&Buffer{SampleRate: 24000}, 0, 1); !errors.Is(err, ErrEmptyPCM) {
		t.Errorf("err = %v", err)
	}
}
