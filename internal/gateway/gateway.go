// Package gateway wires the channels, the forum memory, the browse
// scheduler, and the agent runtime into one process loop.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/stellarlinkco/clawbook/internal/browse"
	"github.com/stellarlinkco/clawbook/internal/bus"
	"github.com/stellarlinkco/clawbook/internal/channel"
	"github.com/stellarlinkco/clawbook/internal/config"
	"github.com/stellarlinkco/clawbook/internal/memory"
)

// Runtime interface for the agent runtime (allows mocking in tests)
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

// runtimeAdapter wraps api.Runtime to implement Runtime interface
type runtimeAdapter struct {
	rt *api.Runtime
}

func (r *runtimeAdapter) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeAdapter) Close() {
	r.rt.Close()
}

// RuntimeFactory creates a Runtime instance
type RuntimeFactory func(cfg *config.Config, sysPrompt string) (Runtime, error)

// Options for creating a Gateway
type Options struct {
	RuntimeFactory RuntimeFactory
	SignalChan     chan os.Signal // for testing signal handling
}

// DefaultRuntimeFactory creates the default agentsdk-go runtime
func DefaultRuntimeFactory(cfg *config.Config, sysPrompt string) (Runtime, error) {
	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:   cfg.Agent.Workspace,
		ModelFactory:  provider,
		SystemPrompt:  sysPrompt,
		MaxIterations: cfg.Agent.MaxToolIterations,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeAdapter{rt: rt}, nil
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	runtime    Runtime
	channels   *channel.ChannelManager
	browse     *browse.Scheduler
	memory     *memory.Store
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)
	g.memory = memory.NewStore(config.MemoryPath(cfg), cfg.Forum.MaxMemoryItems)

	sysPrompt := g.buildSystemPrompt()

	factory := opts.RuntimeFactory
	if factory == nil {
		factory = DefaultRuntimeFactory
	}
	rt, err := factory(cfg, sysPrompt)
	if err != nil {
		return nil, err
	}
	g.runtime = rt

	g.signalChan = opts.SignalChan

	chMgr, err := channel.NewChannelManager(cfg, g.bus, g.memory)
	if err != nil {
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	if cfg.Forum.Enabled && cfg.Forum.AutoBrowse {
		interval := time.Duration(cfg.Forum.BrowseInterval) * time.Second
		g.browse = browse.NewScheduler(g.bus, g.memory, interval)
	}

	return g, nil
}

func (g *Gateway) buildSystemPrompt() string {
	var sb strings.Builder

	if data, err := os.ReadFile(filepath.Join(g.cfg.Agent.Workspace, "AGENTS.md")); err == nil {
		sb.Write(data)
		sb.WriteString("\n\n")
	}

	if data, err := os.ReadFile(filepath.Join(g.cfg.Agent.Workspace, "SOUL.md")); err == nil {
		sb.Write(data)
		sb.WriteString("\n\n")
	}

	if g.memory.Len() > 0 {
		sb.WriteString("# Recent Forum Activity\n")
		sb.WriteString(g.memory.Summary(10))
		sb.WriteString("\n\n")
	}

	return sb.String()
}

func (g *Gateway) runAgent(ctx context.Context, prompt, sessionID string) (string, error) {
	resp, err := g.runtime.Run(ctx, api.Request{
		Prompt:    prompt,
		SessionID: sessionID,
	})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Result == nil {
		return "", nil
	}
	return resp.Result.Output, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if g.browse != nil {
		if err := g.browse.Start(ctx); err != nil {
			log.Printf("[gateway] browse start warning: %v", err)
		}
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))
			g.handleInbound(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	notifType, _ := msg.Metadata["notification_type"].(string)
	if notifType == "mention" && !g.cfg.Forum.AutoReplyMentions {
		log.Printf("[gateway] auto-reply disabled, mention recorded only")
		return
	}

	isBrowse := msg.Metadata["is_browse_event"] == true

	result, err := g.runAgent(ctx, g.buildPrompt(msg), msg.SessionKey())
	if err != nil {
		log.Printf("[gateway] agent error: %v", err)
		if isBrowse {
			return
		}
		result = "Sorry, I encountered an error processing your message."
	}

	if isBrowse {
		// Browse output becomes the diary, never an outbound message.
		if strings.TrimSpace(result) != "" {
			g.memory.Add(memory.KindDiary, truncate(result, 500), nil)
		}
		return
	}

	if result == "" {
		return
	}

	out := bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: result,
	}
	if msg.Channel == channel.ForumChannelName {
		out.Metadata = map[string]any{
			"thread_id": msg.Metadata["thread_id"],
			"reply_id":  msg.Metadata["reply_id"],
		}
	}
	g.bus.Outbound <- out
}

// buildPrompt prefixes thread-scoped notifications with the recorded
// history of that thread so the agent replies with context.
func (g *Gateway) buildPrompt(msg bus.InboundMessage) string {
	threadID := int64Meta(msg.Metadata, "thread_id")
	if threadID == 0 {
		return msg.Content
	}
	return g.memory.ThreadContext(threadID) + "\n\n" + msg.Content
}

func (g *Gateway) Shutdown() error {
	if g.browse != nil {
		g.browse.Stop()
	}
	_ = g.channels.StopAll()
	if g.runtime != nil {
		g.runtime.Close()
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func int64Meta(metadata map[string]any, key string) int64 {
	switch v := metadata[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}
