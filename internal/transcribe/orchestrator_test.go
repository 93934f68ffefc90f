package transcribe

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voxserve/voxserve/internal/audio"
	"github.com/voxserve/voxserve/internal/scheduler"
	"github.com/voxserve/voxserve/internal/whisper"
)

type fakeDecoder struct {
	buf *audio.Buffer
	err error
}

func (f *fakeDecoder) Decode(raw []byte, filename string) (*audio.Buffer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.buf, nil
}

type fakeSubmitter struct {
	text string
	err  error
	opts whisper.DecodeOptions
}

func (f *fakeSubmitter) Submit(ctx context.Context, buf *audio.Buffer, opts whisper.DecodeOptions) (string, error) {
	f.opts = opts
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func stubClock(step time.Duration) func() time.Time {
	current := time.Unix(1700000000, 0)
	return func() time.Time {
		current = current.Add(step)
		return current
	}
}

func TestTranscribeSuccess(t *testing.T) {
	t.Parallel()

	decoder := &fakeDecoder{buf: &audio.Buffer{Samples: make([]float32, 48000), SampleRate: audio.SampleRate}}
	submitter := &fakeSubmitter{text: "hello world"}
	o := NewOrchestrator(decoder, submitter, nil)
	o.now = stubClock(350 * time.Millisecond)

	result, err := o.Transcribe(context.Background(), Request{
		Raw:      []byte("fake"),
		Filename: "clip.wav",
		Quick:    true,
		AnyLang:  false,
	})
	require.NoError(t, err)
	require.Equal(t, "hello world", result.Text)
	require.True(t, result.QuickMode)
	require.False(t, result.AnyLang)
	require.Greater(t, result.ElapsedSeconds, 0.0)
	require.Equal(t, 0.35, result.ElapsedSeconds)
}

func TestTranscribeResolvesLanguagePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		anyLang bool
		forced  string
		mode    whisper.LanguageMode
	}{
		{"auto", true, "", whisper.LanguageAuto},
		{"default", false, "", whisper.LanguageDefault},
		{"forced beats any_lang", true, "de", whisper.LanguageForced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			decoder := &fakeDecoder{buf: &audio.Buffer{Samples: []float32{0.1}}}
			submitter := &fakeSubmitter{text: "ok"}
			o := NewOrchestrator(decoder, submitter, nil)

			_, err := o.Transcribe(context.Background(), Request{
				Raw: []byte("x"), AnyLang: tt.anyLang, ForcedLanguage: tt.forced,
			})
			require.NoError(t, err)
			require.Equal(t, tt.mode, submitter.opts.Language.Mode())
		})
	}
}

func TestTranscribeClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		decodeErr error
		submitErr error
		kind      Kind
		badInput  bool
	}{
		{"unsupported", fmt.Errorf("%w: .txt", audio.ErrUnsupportedFormat), nil, KindUnsupportedFormat, true},
		{"corrupt", fmt.Errorf("%w: truncated", audio.ErrCorruptAudio), nil, KindCorruptAudio, true},
		{"empty", fmt.Errorf("%w: silent", audio.ErrEmptyAudio), nil, KindEmptyAudio, true},
		{"overloaded", nil, fmt.Errorf("%w: depth 2", scheduler.ErrOverloaded), KindOverloaded, false},
		{"timeout", nil, fmt.Errorf("%w after 5m", scheduler.ErrTimeout), KindTimeout, false},
		{"oom", nil, fmt.Errorf("%w: big model", whisper.ErrOutOfMemory), KindOutOfMemory, false},
		{"internal", nil, fmt.Errorf("%w: boom", whisper.ErrInternalFault), KindInternal, false},
		{"canceled", nil, context.Canceled, KindCanceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			decoder := &fakeDecoder{buf: &audio.Buffer{Samples: []float32{0.1}}, err: tt.decodeErr}
			submitter := &fakeSubmitter{err: tt.submitErr}
			o := NewOrchestrator(decoder, submitter, nil)

			_, err := o.Transcribe(context.Background(), Request{Raw: []byte("x")})
			require.Error(t, err)
			require.Equal(t, tt.kind, KindOf(err))
			require.Equal(t, tt.badInput, KindOf(err).BadInput())

			var te *Error
			require.True(t, errors.As(err, &te))
		})
	}
}

func TestKindOfUnknownError(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindUnknown, KindOf(errors.New("mystery")))
}
