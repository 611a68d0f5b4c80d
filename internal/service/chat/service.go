package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/zhouzirui/voicechat/internal/model/chat"
)

var (
	ErrUserRequired = errors.New("user id is required")
	ErrChatNotFound = errors.New("chat not found")
)

const titleMaxRunes = 40

// Service keeps chats, messages and per-user custom prompts in memory.
type Service struct {
	mu       sync.RWMutex
	chats    map[string]chat.Chat
	messages map[string][]chat.Message
	prompts  map[string]string
}

// NewService bootstraps the in-memory chat service suitable for a stub backend.
func NewService() *Service {
	return &Service{
		chats:    make(map[string]chat.Chat),
		messages: make(map[string][]chat.Message),
		prompts:  make(map[string]string),
	}
}

// EnsureChat returns the user's chat with the given id, or creates a new one
// titled after the first question when chatID is empty.
func (s *Service) EnsureChat(_ context.Context, userID, chatID, question string) (chat.Chat, error) {
	if userID == "" {
		return chat.Chat{}, ErrUserRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if chatID != "" {
		c, ok := s.chats[chatID]
		if !ok || c.UserID != userID {
			return chat.Chat{}, ErrChatNotFound
		}
		return c, nil
	}

	now := time.Now().UTC()
	c := chat.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     titleFrom(question),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.chats[c.ID] = c
	s.messages[c.ID] = make([]chat.Message, 0, 16)
	return c, nil
}

// ListChats returns the user's chats, most recently updated first.
func (s *Service) ListChats(_ context.Context, userID string) []chat.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Chat, 0)
	for _, c := range s.chats {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// GetChat returns a chat and its ordered messages.
func (s *Service) GetChat(ctx context.Context, userID, chatID string) (chat.ChatDetail, error) {
	s.mu.RLock()
	c, ok := s.chats[chatID]
	s.mu.RUnlock()
	if !ok || c.UserID != userID {
		return chat.ChatDetail{}, ErrChatNotFound
	}

	messages, err := s.LoadTranscript(ctx, chatID)
	if err != nil {
		return chat.ChatDetail{}, err
	}
	return chat.ChatDetail{Chat: c, Messages: messages}, nil
}

// SaveMessage appends a message to the chat history. An empty ID is assigned.
func (s *Service) SaveMessage(_ context.Context, message chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[message.ChatID]
	if !ok {
		return chat.Message{}, ErrChatNotFound
	}

	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	s.messages[message.ChatID] = append(s.messages[message.ChatID], message)
	c.UpdatedAt = message.CreatedAt
	s.chats[c.ID] = c
	return message, nil
}

// LoadTranscript returns stored messages for the provided chat.
func (s *Service) LoadTranscript(_ context.Context, chatID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// CustomPrompt returns the user's system prompt override, empty if unset.
func (s *Service) CustomPrompt(_ context.Context, userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompts[userID]
}

// SetCustomPrompt stores the user's system prompt override; empty clears it.
func (s *Service) SetCustomPrompt(_ context.Context, userID, prompt string) error {
	if userID == "" {
		return ErrUserRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		delete(s.prompts, userID)
		return nil
	}
	s.prompts[userID] = prompt
	return nil
}

func titleFrom(question string) string {
	title := strings.Join(strings.Fields(question), " ")
	if title == "" {
		return "New chat"
	}
	if utf8.RuneCountInString(title) <= titleMaxRunes {
		return title
	}
	runes := []rune(title)
	return string(runes[:titleMaxRunes]) + "…"
}
