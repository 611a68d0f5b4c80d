package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSilenceSynthesizerChunksWAV(t *testing.T) {
	chunks, err := SilenceSynthesizer{ChunkSize: 1000}.Synthesize(context.Background(), "Hello!")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var wav bytes.Buffer
	for _, c := range chunks {
		assert.Equal(t, "wav", c.Format)
		data, err := base64.StdEncoding.DecodeString(c.Audio)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(data), 1000)
		wav.Write(data)
	}

	assert.Equal(t, "RIFF", wav.String()[:4])
	assert.Equal(t, 44+6*samplesPerRune*bytesPerSample, wav.Len())
}

func TestSilenceSynthesizerRejectsEmpty(t *testing.T) {
	_, err := SilenceSynthesizer{}.Synthesize(context.Background(), "  ")
	assert.Error(t, err)
}

func TestPlaceholderTranscriber(t *testing.T) {
	text, err := PlaceholderTranscriber{}.Transcribe(context.Background(), "clip.webm", strings.NewReader("abcd"))
	require.NoError(t, err)
	assert.Equal(t, "[clip.webm: 4 bytes of audio]", text)

	_, err = PlaceholderTranscriber{}.Transcribe(context.Background(), "empty.webm", strings.NewReader(""))
	assert.Error(t, err)
}
