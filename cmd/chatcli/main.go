package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/voicechat/internal/config"
	"github.com/zhouzirui/voicechat/internal/logging"
	"github.com/zhouzirui/voicechat/internal/model/chat"
	"github.com/zhouzirui/voicechat/internal/service/api"
	"github.com/zhouzirui/voicechat/internal/service/chatclient"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "chat", "模式: chat / list / get / query / transcribe / prompt")
	question := flag.String("q", "", "问题文本 (chat / query)")
	chatID := flag.String("chat", "", "继续已有对话的 chat_id")
	token := flag.String("token", cfg.Client.Token, "认证令牌")
	host := flag.String("host", cfg.Client.Host, "WebSocket 服务地址 host[:port]")
	secure := flag.Bool("secure", cfg.Client.Secure, "使用 wss://")
	voice := flag.Bool("voice", cfg.Client.EnableVoice, "请求语音")
	image := flag.Bool("image", cfg.Client.EnableImage, "请求图片")
	audioPath := flag.String("audio", "", "transcribe 的输入音频文件")
	audioOut := flag.String("audio-out", "", "把收到的语音写入该文件")
	prompt := flag.String("prompt", "", "设置自定义提示词 (prompt 模式，留空则只读取)")
	timeout := flag.Duration("timeout", cfg.Client.Timeout, "空闲超时")
	verbose := flag.Bool("v", false, "输出调试日志")

	flag.Parse()

	level := cfg.Logging.Level
	if *verbose {
		level = "debug"
	}
	logger := logging.NewOrNop(logging.Config{Level: level, Development: true, OutputPaths: []string{"stderr"}})
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	client := api.NewClient(api.Options{
		BaseURL:   cfg.API.BaseURL,
		Token:     *token,
		Timeout:   cfg.API.Timeout,
		RetryMax:  cfg.API.RetryMax,
		RateLimit: cfg.API.RateLimit,
		Logger:    logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.Timeout)
	defer cancel()

	switch *mode {
	case "chat":
		if strings.TrimSpace(*question) == "" {
			log.Fatal("请通过 -q 提供问题")
		}
		opts := chatclient.Options{
			Host:           *host,
			Secure:         *secure,
			Timeout:        *timeout,
			AutoCloseDelay: cfg.Client.AutoCloseDelay,
			ReportTimeout:  cfg.Client.ReportTimeout,
			Logger:         logger,
		}
		req := chatclient.TurnRequest{
			Question:    *question,
			ChatID:      *chatID,
			Token:       *token,
			EnableVoice: *voice,
			EnableImage: *image,
		}
		if err := runChat(opts, req, *audioOut); err != nil {
			log.Fatalf("对话失败: %v", err)
		}
	case "list":
		chats, err := client.ListChats(ctx)
		exitOn(err)
		printJSON(chats)
	case "get":
		if *chatID == "" {
			log.Fatal("请通过 -chat 指定 chat_id")
		}
		detail, err := client.GetChat(ctx, *chatID)
		exitOn(err)
		printJSON(detail)
	case "query":
		resp, err := client.Query(ctx, chat.QueryRequest{Question: *question, ChatID: *chatID})
		exitOn(err)
		printJSON(resp)
	case "transcribe":
		runTranscribe(ctx, client, *audioPath)
	case "prompt":
		if *prompt != "" {
			exitOn(client.SetCustomPrompt(ctx, *prompt))
		}
		current, err := client.GetCustomPrompt(ctx)
		exitOn(err)
		fmt.Println(current)
	default:
		flag.Usage()
		log.Fatalf("未知模式: %s", *mode)
	}
}

func runChat(opts chatclient.Options, req chatclient.TurnRequest, audioOut string) error {
	session, events := chatclient.Stream(opts, req)
	defer session.Close()
	log.Printf("连接 %s", opts.URL())

	var audio []byte
	var failure error
	for ev := range events {
		switch ev.Kind {
		case chatclient.KindAuthenticated:
			log.Println("认证成功，发送问题")
		case chatclient.KindChatStart:
			log.Printf("chat_id=%s message_id=%s", ev.ChatID, ev.MessageID)
		case chatclient.KindAnswer, chatclient.KindTextComplete:
			fmt.Printf("\r%s", ev.Text)
		case chatclient.KindSources:
			for i, src := range ev.Sources {
				log.Printf("来源 %d: %s", i+1, firstNonEmpty(src.Title, src.URL, src.Content))
			}
		case chatclient.KindVoiceChunk, chatclient.KindVoiceComplete:
			if ev.Audio == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(ev.Audio)
			if err != nil {
				log.Printf("[WARN] 语音片段解码失败: %v", err)
				continue
			}
			audio = append(audio, data...)
		case chatclient.KindImageProgress:
			log.Printf("图片: %s", ev.Text)
		case chatclient.KindImageComplete:
			log.Printf("图片地址: %s", ev.ImageURL)
		case chatclient.KindImageError:
			log.Printf("[WARN] 图片生成失败: %s", ev.Text)
		case chatclient.KindChatComplete:
			fmt.Println()
			log.Printf("完成 chat_id=%s message_id=%s", ev.ChatID, ev.MessageID)
		case chatclient.KindError:
			failure = fmt.Errorf("%s", ev.Text)
		}
	}

	if audioOut != "" && len(audio) > 0 {
		if err := os.WriteFile(audioOut, audio, 0o644); err != nil {
			return fmt.Errorf("写入音频失败: %w", err)
		}
		log.Printf("语音已保存: %s (%d bytes)", audioOut, len(audio))
	}
	return failure
}

func runTranscribe(ctx context.Context, client *api.Client, path string) {
	if path == "" {
		log.Fatal("请通过 -audio 指定音频文件")
	}
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("打开音频失败: %v", err)
	}
	defer f.Close()

	start := time.Now()
	result, err := client.Transcribe(ctx, filepath.Base(path), f)
	exitOn(err)
	log.Printf("识别耗时 %s", time.Since(start))
	fmt.Println(result.Text)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("输出失败: %v", err)
	}
}

func exitOn(err error) {
	if err != nil {
		zap.L().Error("request failed", zap.Error(err))
		log.Fatalf("请求失败: %v", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
