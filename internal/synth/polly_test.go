package synth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/dgnsrekt/lectern/internal/audio"
	"github.com/dgnsrekt/lectern/internal/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePolly struct {
	mu    sync.Mutex
	calls []*polly.SynthesizeSpeechInput
	pcm   []byte
	err   error
}

func (f *fakePolly) SynthesizeSpeech(_ context.Context, in *polly.SynthesizeSpeechInput, _ ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	if f.err != nil {
		return nil, f.err
	}
	if f.pcm == nil {
		return &polly.SynthesizeSpeechOutput{}, nil
	}
	return &polly.SynthesizeSpeechOutput{AudioStream: io.NopCloser(bytes.NewReader(f.pcm))}, nil
}

func newTestPolly(t *testing.T, client *fakePolly, opts ...Option) *Polly {
	t.Helper()
	p, err := NewPolly(context.Background(), PollyConfig{Client: client, RequestsPerMinute: 60000}, opts...)
	require.NoError(t, err)
	return p
}

func TestPolly_Synthesize(t *testing.T) {
	client := &fakePolly{pcm: audio.EncodePCM16(make([]int16, 1600))}
	p := newTestPolly(t, client)

	buf, err := p.Synthesize(context.Background(), "  Hello there.  ", Kore)
	require.NoError(t, err)
	assert.Equal(t, pollySampleRate, buf.SampleRate)
	assert.Equal(t, 1600, buf.Len())

	require.Len(t, client.calls, 1)
	in := client.calls[0]
	assert.Equal(t, "Hello there.", *in.Text)
	assert.Equal(t, types.VoiceIdJoanna, in.VoiceId)
	assert.Equal(t, types.OutputFormatPcm, in.OutputFormat)
	assert.Equal(t, types.EngineNeural, in.Engine)
	assert.Equal(t, "16000", *in.SampleRate)
}

func TestPolly_UsesCache(t *testing.T) {
	client := &fakePolly{pcm: audio.EncodePCM16(make([]int16, 800))}
	c := newMemCache()
	p := newTestPolly(t, client, WithCache(c))

	_, err := p.Synthesize(context.Background(), "Once.", Puck)
	require.NoError(t, err)
	_, err = p.Synthesize(context.Background(), "Once.", Puck)
	require.NoError(t, err)
	assert.Len(t, client.calls, 1)

	// A different voice is a different entry.
	_, err = p.Synthesize(context.Background(), "Once.", Charon)
	require.NoError(t, err)
	assert.Len(t, client.calls, 2)
}

func TestPolly_Failures(t *testing.T) {
	tests := []struct {
		name   string
		client *fakePolly
		text   string
		kind   fault.Kind
	}{
		{"empty text", &fakePolly{}, "   ", fault.InvalidInput},
		{"request error", &fakePolly{err: errors.New("throttled")}, "Hi.", fault.TransientNetwork},
		{"cancelled", &fakePolly{err: context.Canceled}, "Hi.", fault.UserCancellation},
		{"no stream", &fakePolly{}, "Hi.", fault.MalformedPayload},
		{"empty stream", &fakePolly{pcm: []byte{}}, "Hi.", fault.MalformedPayload},
		{"odd bytes", &fakePolly{pcm: []byte{1, 2, 3}}, "Hi.", fault.MalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPolly(t, tt.client)
			buf, err := p.Synthesize(context.Background(), tt.text, Puck)
			assert.Nil(t, buf)
			assert.Equal(t, tt.kind, fault.KindOf(err))
		})
	}
}

func TestPollyVoice(t *testing.T) {
	for _, v := range Voices() {
		assert.NotEmpty(t, PollyVoice(v), v.String())
	}
	assert.Equal(t, types.VoiceIdMatthew, PollyVoice(Voice(99)))
}

func TestNew_SelectsPolly(t *testing.T) {
	s, err := New(context.Background(), Config{Engine: EnginePolly, Polly: PollyConfig{Client: &fakePolly{}}})
	require.NoError(t, err)
	assert.IsType(t, &Polly{}, s)
}
