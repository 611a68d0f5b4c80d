package chatclient

import "github.com/zhouzirui/voicechat/internal/model/chat"

// Callbacks 调用方提供的回调集合，均为可选。
// 同一会话内的回调按帧到达顺序依次调用，不会并发。
type Callbacks struct {
	OnConnect       func()
	OnAuthenticated func()
	OnChatStart     func(chatID, messageID string, voiceEnabled, imageEnabled bool)
	OnTextComplete  func(chatID, fullResponse string)
	OnVoiceStart    func(chatID string)
	OnVoiceChunk    func(chatID, audio, format string)
	OnVoiceComplete func(chatID string)
	OnImageStart    func(chatID, prompt string)
	OnImageProgress func(chatID, message string)
	OnImageComplete func(chatID, imageURL string)
	OnImageError    func(chatID, reason string)
	OnChatComplete  func(chatID, messageID, fullResponse string, voiceEnabled, imageEnabled bool)
	OnError         func(reason string)

	// 旧协议的底层钩子
	SetAnswer  func(text string)
	SetSources func(sources []chat.Source)
}

func (c Callbacks) withDefaults() Callbacks {
	if c.OnConnect == nil {
		c.OnConnect = func() {}
	}
	if c.OnAuthenticated == nil {
		c.OnAuthenticated = func() {}
	}
	if c.OnChatStart == nil {
		c.OnChatStart = func(string, string, bool, bool) {}
	}
	if c.OnTextComplete == nil {
		c.OnTextComplete = func(string, string) {}
	}
	if c.OnVoiceStart == nil {
		c.OnVoiceStart = func(string) {}
	}
	if c.OnVoiceChunk == nil {
		c.OnVoiceChunk = func(string, string, string) {}
	}
	if c.OnVoiceComplete == nil {
		c.OnVoiceComplete = func(string) {}
	}
	if c.OnImageStart == nil {
		c.OnImageStart = func(string, string) {}
	}
	if c.OnImageProgress == nil {
		c.OnImageProgress = func(string, string) {}
	}
	if c.OnImageComplete == nil {
		c.OnImageComplete = func(string, string) {}
	}
	if c.OnImageError == nil {
		c.OnImageError = func(string, string) {}
	}
	if c.OnChatComplete == nil {
		c.OnChatComplete = func(string, string, string, bool, bool) {}
	}
	if c.OnError == nil {
		c.OnError = func(string) {}
	}
	if c.SetAnswer == nil {
		c.SetAnswer = func(string) {}
	}
	if c.SetSources == nil {
		c.SetSources = func([]chat.Source) {}
	}
	return c
}
