package chatclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/voicechat/internal/model/chat"
)

type received struct {
	frame chat.ClientFrame
	at    time.Time
}

// peer 是脚本化服务端看到的一条连接
type peer struct {
	t      *testing.T
	conn   *websocket.Conn
	frames chan received
}

func (p *peer) send(v any) error {
	return p.conn.WriteJSON(v)
}

func (p *peer) sendRaw(payload string) error {
	return p.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

func (p *peer) next(timeout time.Duration) (received, bool) {
	select {
	case r, ok := <-p.frames:
		return r, ok
	case <-time.After(timeout):
		return received{}, false
	}
}

// waitClosed 等待客户端关闭连接
func (p *peer) waitClosed(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-p.frames:
			if !ok {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

// handshake 完成认证并返回客户端发来的对话请求
func (p *peer) handshake() (chat.ClientFrame, bool) {
	auth, ok := p.next(time.Second)
	if !assert.True(p.t, ok, "expected auth frame") {
		return chat.ClientFrame{}, false
	}
	assert.Equal(p.t, chat.TypeAuth, auth.frame.Type)

	if err := p.send(map[string]any{"type": "auth_success", "user_id": "u1"}); err != nil {
		return chat.ClientFrame{}, false
	}

	req, ok := p.next(time.Second)
	if !assert.True(p.t, ok, "expected chat frame") {
		return chat.ClientFrame{}, false
	}
	assert.Equal(p.t, chat.TypeChat, req.frame.Type)
	return req.frame, true
}

// startServer 启动一个按脚本回放帧的 WebSocket 服务端
func startServer(t *testing.T, script func(p *peer)) Options {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != chat.EndpointPath {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		p := &peer{t: t, conn: conn, frames: make(chan received, 16)}
		go func() {
			defer close(p.frames)
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var f chat.ClientFrame
				if err := json.Unmarshal(data, &f); err != nil {
					continue
				}
				p.frames <- received{frame: f, at: time.Now()}
			}
		}()

		script(p)
		p.waitClosed(3 * time.Second)
	}))
	t.Cleanup(srv.Close)

	return Options{
		Host:           strings.TrimPrefix(srv.URL, "http://"),
		Timeout:        2 * time.Second,
		AutoCloseDelay: 50 * time.Millisecond,
	}
}

type completion struct {
	chatID       string
	messageID    string
	fullResponse string
	voiceEnabled bool
	imageEnabled bool
	at           time.Time
}

// recorder 记录回调调用顺序
type recorder struct {
	mu          sync.Mutex
	calls       []string
	completions []completion
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) completed() []completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]completion(nil), r.completions...)
}

func (r *recorder) count(prefix string) int {
	n := 0
	for _, c := range r.all() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnConnect:       func() { r.add("connect") },
		OnAuthenticated: func() { r.add("authenticated") },
		OnChatStart: func(chatID, messageID string, voice, image bool) {
			r.add("chat_start %s %s %t %t", chatID, messageID, voice, image)
		},
		OnTextComplete:  func(chatID, full string) { r.add("text_complete %s %s", chatID, full) },
		OnVoiceStart:    func(chatID string) { r.add("voice_start %s", chatID) },
		OnVoiceChunk:    func(chatID, audio, format string) { r.add("voice_chunk %s %s %s", chatID, audio, format) },
		OnVoiceComplete: func(chatID string) { r.add("voice_complete %s", chatID) },
		OnImageStart:    func(chatID, prompt string) { r.add("image_start %s %s", chatID, prompt) },
		OnImageProgress: func(chatID, message string) { r.add("image_progress %s %s", chatID, message) },
		OnImageComplete: func(chatID, url string) { r.add("image_complete %s %s", chatID, url) },
		OnImageError:    func(chatID, reason string) { r.add("image_error %s %s", chatID, reason) },
		OnChatComplete: func(chatID, messageID, full string, voice, image bool) {
			r.mu.Lock()
			r.completions = append(r.completions, completion{chatID, messageID, full, voice, image, time.Now()})
			r.mu.Unlock()
			r.add("chat_complete %s", full)
		},
		OnError:    func(reason string) { r.add("error %s", reason) },
		SetAnswer:  func(text string) { r.add("answer %s", text) },
		SetSources: func(sources []chat.Source) { r.add("sources %d", len(sources)) },
	}
}

func waitDone(t *testing.T, s *Session, timeout time.Duration) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(timeout):
		t.Fatalf("session not closed within %s (state %s)", timeout, s.State())
	}
}
