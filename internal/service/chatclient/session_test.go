package chatclient

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voicechat/internal/model/chat"
)

func TestOptionsURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8000/ws/chat", Options{Host: "localhost:8000"}.URL())
	assert.Equal(t, "wss://chat.example.com/ws/chat", Options{Host: "chat.example.com", Secure: true}.URL())
}

func TestPhasedTurn(t *testing.T) {
	opts := startServer(t, func(p *peer) {
		req, ok := p.handshake()
		if !ok {
			return
		}
		assert.Equal(t, "Hi", req.Message)
		assert.False(t, req.EnableVoice)
		assert.False(t, req.EnableImage)

		_ = p.send(map[string]any{"type": "chat_start", "chat_id": "c1", "message_id": "m1", "voice_enabled": false})
		_ = p.send(map[string]any{"type": "text_complete", "chat_id": "c1", "full_response": "Hello!"})
		_ = p.send(map[string]any{"type": "chat_complete", "chat_id": "c1"})
	})

	rec := &recorder{}
	s := New(opts, TurnRequest{Question: "Hi", Token: "tok"}, rec.callbacks())
	waitDone(t, s, 3*time.Second)
	closedAt := time.Now()

	assert.Equal(t, []string{
		"connect",
		"authenticated",
		"chat_start c1 m1 false false",
		"text_complete c1 Hello!",
		"chat_complete Hello!",
	}, rec.all())

	completions := rec.completed()
	require.Len(t, completions, 1)
	assert.Equal(t, completion{chatID: "c1", messageID: "m1", fullResponse: "Hello!", at: completions[0].at}, completions[0])
	assert.GreaterOrEqual(t, closedAt.Sub(completions[0].at), opts.AutoCloseDelay)

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, "c1", s.ChatID())
	assert.Equal(t, "m1", s.MessageID())
}

func TestChatFrameWaitsForAuthSuccess(t *testing.T) {
	var authSentAt, chatReceivedAt atomic.Int64

	opts := startServer(t, func(p *peer) {
		auth, ok := p.next(time.Second)
		if !assert.True(t, ok) {
			return
		}
		assert.Equal(t, chat.TypeAuth, auth.frame.Type)
		assert.Equal(t, "secret", auth.frame.Token)

		time.Sleep(150 * time.Millisecond)
		authSentAt.Store(time.Now().UnixNano())
		_ = p.send(map[string]any{"type": "auth_success", "user_id": "u1"})

		req, ok := p.next(time.Second)
		if !assert.True(t, ok) {
			return
		}
		assert.Equal(t, chat.TypeChat, req.frame.Type)
		assert.Equal(t, "c-prev", req.frame.ChatID)
		assert.True(t, req.frame.EnableImage)
		chatReceivedAt.Store(req.at.UnixNano())

		_ = p.send(map[string]any{"type": "chat_complete", "chat_id": "c-prev"})
	})

	rec := &recorder{}
	s := New(opts, TurnRequest{Question: "again", ChatID: "c-prev", Token: "secret", EnableImage: true}, rec.callbacks())
	waitDone(t, s, 3*time.Second)

	require.NotZero(t, chatReceivedAt.Load())
	assert.Greater(t, chatReceivedAt.Load(), authSentAt.Load())
}

func TestLegacyTurn(t *testing.T) {
	opts := startServer(t, func(p *peer) {
		if _, ok := p.handshake(); !ok {
			return
		}
		_ = p.send(map[string]any{"type": "stream_start"})
		_ = p.send(map[string]any{"type": "chunk", "content": "Hel"})
		_ = p.send(map[string]any{"type": "chunk", "content": "lo"})
		_ = p.send(map[string]any{
			"type":           "complete",
			"full_response":  "Hello",
			"context_chunks": []map[string]any{{"content": "doc"}},
		})
	})

	rec := &recorder{}
	s := New(opts, TurnRequest{Question: "Hi", Token: "tok"}, rec.callbacks())
	waitDone(t, s, 3*time.Second)

	assert.Equal(t, []string{
		"connect",
		"authenticated",
		"answer Hel",
		"answer Hello",
		"answer Hello",
		"sources 1",
		"chat_complete Hello",
	}, rec.all())

	completions := rec.completed()
	require.Len(t, completions, 1)
	assert.NotEmpty(t, completions[0].messageID)
}

func TestLegacyCompleteOverwritesAccumulatedAnswer(t *testing.T) {
	opts := startServer(t, func(p *peer) {
		if _, ok := p.handshake(); !ok {
			return
		}
		_ = p.send(map[string]any{"type": "stream_start", "chat_id": "c9"})
		_ = p.send(map[string]any{"type": "chunk", "content": "draft"})
		_ = p.sendRaw(`[{"title":"a"},{"title":"b"}]`)
		_ = p.send(map[string]any{"type": "complete", "full_response": "final"})
	})

	rec := &recorder{}
	s := New(opts, TurnRequest{Question: "q", Token: "tok"}, rec.callbacks())
	waitDone(t, s, 3*time.Second)

	assert.Equal(t, []string{
		"connect",
		"authenticated",
		"answer draft",
		"sources 2",
		"answer final",
		"chat_complete final",
	}, rec.all())
	assert.Equal(t, "c9", rec.completed()[0].chatID)
}

func TestBothProtocolsCompleteWithSameText(t *testing.T) {
	scripts := map[string]func(p *peer){
		"legacy": func(p *peer) {
			if _, ok := p.handshake(); !ok {
				return
			}
			_ = p.send(map[string]any{"type": "stream_start"})
			for _, part := range []string{"The ", "answer ", "is 42"} {
				_ = p.send(map[string]any{"type": "chunk", "content": part})
			}
			_ = p.send(map[string]any{"type": "complete", "full_response": "The answer is 42"})
		},
		"phased": func(p *peer) {
			if _, ok := p.handshake(); !ok {
				return
			}
			_ = p.send(map[string]any{"type": "chat_start", "chat_id": "c1", "message_id": "m1", "voice_enabled": false})
			_ = p.send(map[string]any{"type": "text_complete", "chat_id": "c1", "full_response": "The answer is 42"})
			_ = p.send(map[string]any{"type": "chat_complete", "chat_id": "c1", "message_id": "m1"})
		},
	}

	for name, script := range scripts {
		t.Run(name, func(t *testing.T) {
			opts := startServer(t, script)
			rec := &recorder{}
			s := New(opts, TurnRequest{Question: "Q", Token: "tok"}, rec.callbacks())
			waitDone(t, s, 3*time.Second)

			completions := rec.completed()
			require.Len(t, completions, 1)
			assert.Equal(t, "The answer is 42", completions[0].fullResponse)
			assert.Zero(t, rec.count("error"))
		})
	}
}

func TestIdleTimeoutClosesSilently(t *testing.T) {
	opts := startServer(t, func(p *peer) {
		_, _ = p.handshake()
	})
	opts.Timeout = 200 * time.Millisecond

	rec := &recorder{}
	start := time.Now()
	s := New(opts, TurnRequest{Question: "Hi", Token: "tok"}, rec.callbacks())
	waitDone(t, s, 2*time.Second)

	assert.GreaterOrEqual(t, time.Since(start), opts.Timeout)
	assert.Zero(t, rec.count("chat_complete"))
	assert.Zero(t, rec.count("error"))
	assert.Equal(t, StateClosed, s.State())
}

func TestIdleTimeoutReported(t *testing.T) {
	opts := startServer(t, func(p *peer) {
		_, _ = p.handshake()
	})
	opts.Timeout = 150 * time.Millisecond
	opts.ReportTimeout = true

	rec := &recorder{}
	s := New(opts, TurnRequest{Question: "Hi", Token: "tok"}, rec.callbacks())
	waitDone(t, s, 2*time.Second)

	assert.Equal(t, 1, rec.count("error "+ReasonTimeout))
	assert.Zero(t, rec.count("chat_complete"))
}

func TestEveryFrameRearmsIdleTimer(t *testing.T) {
	opts := startServer(t, func(p *peer) {
		if _, ok := p.handshake(); !ok {
			return
		}
		_ = p.send(map[string]any{"type": "chat_start", "chat_id": "c1", "message_id": "m1", "voice_enabled": true})
		_ = p.send(map[string]any{"type": "voice_start", "chat_id": "c1"})
		for i := 0; i < 6; i++ {
			time.Sleep(100 * time.Millisecond)
			if err := p.send(map[string]any{"type": "voice_chunk", "chat_id": "c1", "audio": "AAAA", "format": "mp3"}); err != nil {
				return
			}
		}
		_ = p.send(map[string]any{"type": "voice_complete", "chat_id": "c1"})
		_ = p.send(map[string]any{"type": "chat_complete", "chat_id": "c1"})
	})
	opts.Timeout = 300 * time.Millisecond

	rec := &recorder{}
	s := New(opts, TurnRequest{Question: "Hi", Token: "tok", EnableVoice: true}, rec.callbacks())
	waitDone(t, s, 3*time.Second)

	assert.Equal(t, 6, rec.count("voice_chunk"))
	assert.Equal(t, 1, rec.count("chat_complete"))
	assert.Zero(t, rec.count("error"))
	assert.True(t, rec.completed()[0].voiceEnabled)
}

func TestVoiceCompleteCarryingAudio(t *testing.T) {
	opts := startServer(t, func(p *peer) {
		if _, ok := p.handshake(); !ok {
			return
		}
		_ = p.send(map[string]any{"type": "chat_start", "chat_id": "c1", "message_id": "m1", "voice_enabled": true})
		_ = p.send(map[string]any{"type": "voice_start", "chat_id": "c1"})
		_ = p.send(map[string]any{"type": "voice_chunk", "chat_id": "c1", "audio": "AAAA", "format": "wav"})
		_ = p.send(map[string]any{"type": "voice_complete", "chat_id": "c1", "audio": "BBBB"})
		_ = p.send(map[string]any{"type": "chat_complete", "chat_id": "c1", "voice_enabled": true})
	})

	rec := &recorder{}
	s := New(opts, TurnRequest{Question: "Hi", Token: "tok", EnableVoice: true}, rec.callbacks())
	waitDone(t, s, 3*time.Second)

	assert.Equal(t, []string{
		"connect",
		"authenticated",
		"chat_start c1 m1 true false",
		"voice_start c1",
		"voice_chunk c1 AAAA wav",
		"voice_chunk c1 BBBB wav",
		"voice_complete c1",
		"chat_complete ",
	}, rec.all())
}

func TestImagePhaseIsNonFatal(t *testing.T) {
	opts := startServer(t, func(p *peer) {
		if _, ok := p.handshake(); !ok {
			return
		}
		_ = p.send(map[string]any{"type": "chat_start", "chat_id": "c1", "message_id": "m1", "voice_enabled": false, "image_enabled": true})
		_ = p.send(map[string]any{"type": "image_start", "chat_id": "c1", "prompt": "a cat"})
		_ = p.send(map[string]any{"type": "text_complete", "chat_id": "c1", "full_response": "Here"})
		_ = p.send(map[string]any{"type": "image_progress", "chat_id": "c1", "message": "drawing"})
		_ = p.send(map[string]any{"type": "image_error", "chat_id": "c1", "error": "nsfw"})
		_ = p.send(map[string]any{"type": "chat_complete", "chat_id": "c1", "image_enabled": false})
	})

	rec := &recorder{}
	s := New(opts, TurnRequest{Question: "draw", Token: "tok", EnableImage: true}, rec.callbacks())
	waitDone(t, s, 3*time.Second)

	assert.Equal(t, []string{
		"connect",
		"authenticated",
		"chat_start c1 m1 false true",
		"image_start c1 a cat",
		"text_complete c1 Here",
		"image_progress c1 drawing",
		"image_error c1 nsfw",
		"chat_complete Here",
	}, rec.all())
	assert.False(t, rec.completed()[0].imageEnabled)
}

func TestServerErrorIsTerminal(t *testing.T) {
	opts := startServer(t, func(p *peer) {
		if _, ok := p.handshake(); !ok {
			return
		}
		_ = p.send(map[string]any{"type": "chat_start", "chat_id": "c1", "message_id": "m1", "voice_enabled": false})
		_ = p.send(map[string]any{"type": "error", "error": "rate limited"})
		_ = p.send(map[string]any{"type": "text_complete", "chat_id": "c1", "full_response": "late"})
		_ = p.send(map[string]any{"type": "chat_complete", "chat_id": "c1"})
	})

	rec := &recorder{}
	s := New(opts, TurnRequest{Question: "Hi", Token: "tok"}, rec.callbacks())
	waitDone(t, s, 2*time.Second)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, []string{
		"connect",
		"authenticated",
		"chat_start c1 m1 false false",
		"error rate limited",
	}, rec.all())
	assert.Equal(t, StateClosed, s.State())
}

func TestBareErrorObject(t *testing.T) {
	opts := startServer(t, func(p *peer) {
		if _, ok := p.handshake(); !ok {
			return
		}
		_ = p.send(map[string]any{"error": "bad request"})
	})

	rec := &recorder{}
	s := New(opts, TurnRequest{Question: "Hi", Token: "tok"}, rec.callbacks())
	waitDone(t, s, 2*time.Second)

	assert.Equal(t, 1, rec.count("error bad request"))
}

func TestErrorBeforeAuthSuccess(t *testing.T) {
	opts := startServer(t, func(p *peer) {
		if _, ok := p.next(time.Second); !ok {
			return
		}
		_ = p.send(map[string]any{"type": "error", "error": "invalid token"})
	})

	rec := &recorder{}
	s := New(opts, TurnRequest{Question: "Hi", Token: "bad"}, rec.callbacks())
	waitDone(t, s, 2*time.Second)

	assert.Equal(t, []string{"connect", "error invalid token"}, rec.all())
}

func TestMalformedFrame(t *testing.T) {
	opts := startServer(t, func(p *peer) {
		if _, ok := p.handshake(); !ok {
			return
		}
		_ = p.sendRaw("not json")
	})

	rec := &recorder{}
	s := New(opts, TurnRequest{Question: "Hi", Token: "tok"}, rec.callbacks())
	waitDone(t, s, 2*time.Second)

	assert.Equal(t, 1, rec.count("error Invalid message format: not json"))
	assert.Zero(t, rec.count("chat_complete"))
}

func TestUnknownFrameTypeIgnored(t *testing.T) {
	opts := startServer(t, func(p *peer) {
		if _, ok := p.handshake(); !ok {
			return
		}
		_ = p.send(map[string]any{"type": "typing_indicator", "on": true})
		_ = p.send(map[string]any{"type": "chat_start", "chat_id": "c1", "message_id": "m1", "voice_enabled": false})
		_ = p.send(map[string]any{"type": "chat_complete", "chat_id": "c1"})
	})

	rec := &recorder{}
	s := New(opts, TurnRequest{Question: "Hi", Token: "tok"}, rec.callbacks())
	waitDone(t, s, 3*time.Second)

	assert.Equal(t, 1, rec.count("chat_complete"))
	assert.Zero(t, rec.count("error"))
}

func TestDuplicateAuthSuccessSendsOneRequest(t *testing.T) {
	var chatFrames atomic.Int32

	opts := startServer(t, func(p *peer) {
		if _, ok := p.handshake(); !ok {
			return
		}
		chatFrames.Add(1)
		_ = p.send(map[string]any{"type": "auth_success", "user_id": "u1"})
		if r, ok := p.next(100 * time.Millisecond); ok && r.frame.Type == chat.TypeChat {
			chatFrames.Add(1)
		}
		_ = p.send(map[string]any{"type": "chat_complete", "chat_id": "c1"})
	})

	rec := &recorder{}
	s := New(opts, TurnRequest{Question: "Hi", Token: "tok"}, rec.callbacks())
	waitDone(t, s, 3*time.Second)

	assert.Equal(t, int32(1), chatFrames.Load())
	assert.Equal(t, 1, rec.count("authenticated"))
}

func TestConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	rec := &recorder{}
	s := New(Options{Host: host, Timeout: time.Second}, TurnRequest{Question: "Hi", Token: "tok"}, rec.callbacks())
	waitDone(t, s, 2*time.Second)

	assert.Equal(t, []string{"error " + ReasonConnection}, rec.all())
}

func TestCloseIsIdempotent(t *testing.T) {
	opts := startServer(t, func(p *peer) {
		if _, ok := p.handshake(); !ok {
			return
		}
		_ = p.send(map[string]any{"type": "chat_complete", "chat_id": "c1", "message_id": "m1"})
	})

	rec := &recorder{}
	s := New(opts, TurnRequest{Question: "Hi", Token: "tok"}, rec.callbacks())
	waitDone(t, s, 3*time.Second)

	assert.NotPanics(t, func() {
		s.Close()
		s.Close()
	})
	assert.Len(t, rec.completed(), 1)
	assert.Zero(t, rec.count("error"))
}

func TestCloseFromCallbackStopsDelivery(t *testing.T) {
	var current atomic.Pointer[Session]

	opts := startServer(t, func(p *peer) {
		if _, ok := p.handshake(); !ok {
			return
		}
		_ = p.send(map[string]any{"type": "chat_start", "chat_id": "c1", "message_id": "m1", "voice_enabled": false})
		_ = p.send(map[string]any{"type": "text_complete", "chat_id": "c1", "full_response": "ignored"})
		_ = p.send(map[string]any{"type": "chat_complete", "chat_id": "c1"})
	})

	rec := &recorder{}
	cb := rec.callbacks()
	chatStart := cb.OnChatStart
	cb.OnChatStart = func(chatID, messageID string, voice, image bool) {
		chatStart(chatID, messageID, voice, image)
		if s := current.Load(); s != nil {
			s.Close()
		}
	}

	s := New(opts, TurnRequest{Question: "Hi", Token: "tok"}, cb)
	current.Store(s)
	waitDone(t, s, 3*time.Second)
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, rec.count("text_complete"))
	assert.Zero(t, rec.count("chat_complete"))
	assert.Zero(t, rec.count("error"))
}

func TestCloseBeforeConnect(t *testing.T) {
	opts := startServer(t, func(p *peer) {})

	rec := &recorder{}
	s := New(opts, TurnRequest{Question: "Hi", Token: "tok"}, rec.callbacks())
	s.Close()
	waitDone(t, s, time.Second)
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, rec.count("error"))
	assert.Zero(t, rec.count("chat_complete"))
	assert.Equal(t, StateClosed, s.State())
}

func TestSlowCallbackDoesNotCountAsIdle(t *testing.T) {
	opts := startServer(t, func(p *peer) {
		if _, ok := p.handshake(); !ok {
			return
		}
		_ = p.send(map[string]any{"type": "chat_start", "chat_id": "c1", "message_id": "m1"})
		_ = p.send(map[string]any{"type": "text_complete", "chat_id": "c1", "full_response": "Hello!"})
		_ = p.send(map[string]any{"type": "chat_complete", "chat_id": "c1"})
	})
	opts.Timeout = 200 * time.Millisecond
	opts.ReportTimeout = true

	rec := &recorder{}
	cb := rec.callbacks()
	onChatStart := cb.OnChatStart
	cb.OnChatStart = func(chatID, messageID string, voice, image bool) {
		time.Sleep(400 * time.Millisecond)
		onChatStart(chatID, messageID, voice, image)
	}

	s := New(opts, TurnRequest{Question: "Hi", Token: "tok"}, cb)
	waitDone(t, s, 3*time.Second)

	assert.Equal(t, []string{
		"connect",
		"authenticated",
		"chat_start c1 m1 false false",
		"text_complete c1 Hello!",
		"chat_complete Hello!",
	}, rec.all())
}

func TestVoiceChunkWithoutFormatUsesLastSeen(t *testing.T) {
	opts := startServer(t, func(p *peer) {
		if _, ok := p.handshake(); !ok {
			return
		}
		_ = p.send(map[string]any{"type": "chat_start", "chat_id": "c1", "message_id": "m1", "voice_enabled": true})
		_ = p.send(map[string]any{"type": "voice_chunk", "chat_id": "c1", "audio": "AAAA"})
		_ = p.send(map[string]any{"type": "voice_chunk", "chat_id": "c1", "audio": "BBBB", "format": "wav"})
		_ = p.send(map[string]any{"type": "voice_chunk", "chat_id": "c1", "audio": "CCCC"})
		_ = p.send(map[string]any{"type": "voice_complete", "chat_id": "c1", "audio": "DDDD"})
		_ = p.send(map[string]any{"type": "chat_complete", "chat_id": "c1"})
	})

	rec := &recorder{}
	s := New(opts, TurnRequest{Question: "Hi", Token: "tok", EnableVoice: true}, rec.callbacks())
	waitDone(t, s, 3*time.Second)

	var chunks []string
	for _, c := range rec.all() {
		if strings.HasPrefix(c, "voice_chunk") {
			chunks = append(chunks, c)
		}
	}
	assert.Equal(t, []string{
		"voice_chunk c1 AAAA mp3",
		"voice_chunk c1 BBBB wav",
		"voice_chunk c1 CCCC wav",
		"voice_chunk c1 DDDD wav",
	}, chunks)
}
