package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	sampleRate      = 16000
	bytesPerSample  = 2
	samplesPerRune  = sampleRate / 20
	defaultChunkLen = 4096
)

// AudioChunk 一段 base64 编码的音频
type AudioChunk struct {
	Audio  string
	Format string
}

// Synthesizer 文字转语音
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]AudioChunk, error)
}

// Transcriber 语音转文字
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

// SilenceSynthesizer 生成与文本长度成比例的静音 WAV，并切成若干块。
// 供桩服务端演示语音阶段，不接入真实语音引擎。
type SilenceSynthesizer struct {
	ChunkSize int
}

// Synthesize 返回按顺序播放的音频块
func (s SilenceSynthesizer) Synthesize(ctx context.Context, text string) ([]AudioChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text is required")
	}

	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkLen
	}

	wav := silentWAV(utf8.RuneCountInString(text) * samplesPerRune)
	chunks := make([]AudioChunk, 0, len(wav)/chunkSize+1)
	for start := 0; start < len(wav); start += chunkSize {
		end := min(start+chunkSize, len(wav))
		chunks = append(chunks, AudioChunk{
			Audio:  base64.StdEncoding.EncodeToString(wav[start:end]),
			Format: "wav",
		})
	}
	return chunks, nil
}

// silentWAV 16kHz 单声道 16bit PCM
func silentWAV(samples int) []byte {
	dataLen := samples * bytesPerSample
	var buf bytes.Buffer
	buf.Grow(44 + dataLen)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*bytesPerSample))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bytesPerSample))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(8*bytesPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}

// PlaceholderTranscriber 不做识别，只报告收到的音频大小
type PlaceholderTranscriber struct{}

// Transcribe 读取全部音频并返回占位文本
func (PlaceholderTranscriber) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	n, err := io.Copy(io.Discard, audio)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if n == 0 {
		return "", fmt.Errorf("audio is empty")
	}
	return fmt.Sprintf("[%s: %d bytes of audio]", filename, n), nil
}
