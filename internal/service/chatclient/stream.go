package chatclient

import (
	"slices"
	"sync"

	"github.com/zhouzirui/voicechat/internal/model/chat"
)

// EventKind 流式接口中的事件种类
type EventKind string

const (
	KindConnected     EventKind = "connected"
	KindAuthenticated EventKind = "authenticated"
	KindChatStart     EventKind = "chat_start"
	KindTextComplete  EventKind = "text_complete"
	KindVoiceStart    EventKind = "voice_start"
	KindVoiceChunk    EventKind = "voice_chunk"
	KindVoiceComplete EventKind = "voice_complete"
	KindImageStart    EventKind = "image_start"
	KindImageProgress EventKind = "image_progress"
	KindImageComplete EventKind = "image_complete"
	KindImageError    EventKind = "image_error"
	KindAnswer        EventKind = "answer"
	KindSources       EventKind = "sources"
	KindChatComplete  EventKind = "chat_complete"
	KindError         EventKind = "error"
)

// Event 回调在通道上的等价表示。Text 依种类承载完整回答、累计回答、
// 图片提示词、进度描述或错误原因。
type Event struct {
	Kind         EventKind
	ChatID       string
	MessageID    string
	Text         string
	Audio        string
	Format       string
	ImageURL     string
	VoiceEnabled bool
	ImageEnabled bool
	Sources      []chat.Source
}

// Terminal 是否为本轮的终止事件
func (e Event) Terminal() bool {
	return e.Kind == KindChatComplete || e.Kind == KindError
}

// Stream 以单一有序通道代替回调。通道不设上限，读取慢不会阻塞会话；
// 会话关闭后通道在送完剩余事件时关闭，调用方应持续读取直到关闭。
func Stream(opts Options, req TurnRequest) (*Session, <-chan Event) {
	q := &eventQueue{notify: make(chan struct{}, 1)}
	out := make(chan Event)

	cb := Callbacks{
		OnConnect:       func() { q.push(Event{Kind: KindConnected}) },
		OnAuthenticated: func() { q.push(Event{Kind: KindAuthenticated}) },
		OnChatStart: func(chatID, messageID string, voice, image bool) {
			q.push(Event{Kind: KindChatStart, ChatID: chatID, MessageID: messageID, VoiceEnabled: voice, ImageEnabled: image})
		},
		OnTextComplete: func(chatID, full string) {
			q.push(Event{Kind: KindTextComplete, ChatID: chatID, Text: full})
		},
		OnVoiceStart: func(chatID string) { q.push(Event{Kind: KindVoiceStart, ChatID: chatID}) },
		OnVoiceChunk: func(chatID, audio, format string) {
			q.push(Event{Kind: KindVoiceChunk, ChatID: chatID, Audio: audio, Format: format})
		},
		OnVoiceComplete: func(chatID string) { q.push(Event{Kind: KindVoiceComplete, ChatID: chatID}) },
		OnImageStart: func(chatID, prompt string) {
			q.push(Event{Kind: KindImageStart, ChatID: chatID, Text: prompt})
		},
		OnImageProgress: func(chatID, message string) {
			q.push(Event{Kind: KindImageProgress, ChatID: chatID, Text: message})
		},
		OnImageComplete: func(chatID, imageURL string) {
			q.push(Event{Kind: KindImageComplete, ChatID: chatID, ImageURL: imageURL})
		},
		OnImageError: func(chatID, reason string) {
			q.push(Event{Kind: KindImageError, ChatID: chatID, Text: reason})
		},
		OnChatComplete: func(chatID, messageID, full string, voice, image bool) {
			q.push(Event{Kind: KindChatComplete, ChatID: chatID, MessageID: messageID, Text: full, VoiceEnabled: voice, ImageEnabled: image})
		},
		OnError:    func(reason string) { q.push(Event{Kind: KindError, Text: reason}) },
		SetAnswer:  func(text string) { q.push(Event{Kind: KindAnswer, Text: text}) },
		SetSources: func(sources []chat.Source) { q.push(Event{Kind: KindSources, Sources: slices.Clone(sources)}) },
	}

	s := New(opts, req, cb)
	go q.pump(out, s.Done())
	return s, out
}

type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	notify chan struct{}
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) take(final bool) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	if final {
		q.closed = true
	}
	return items
}

func (q *eventQueue) pump(out chan<- Event, done <-chan struct{}) {
	defer close(out)
	for {
		select {
		case <-q.notify:
			for _, ev := range q.take(false) {
				out <- ev
			}
		case <-done:
			for _, ev := range q.take(true) {
				out <- ev
			}
			return
		}
	}
}
