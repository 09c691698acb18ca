package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stellarlinkco/clawbook/internal/bus"
	"github.com/stellarlinkco/clawbook/internal/config"
	"github.com/stellarlinkco/clawbook/internal/forum"
	"github.com/stellarlinkco/clawbook/internal/memory"
)

const ForumChannelName = "forum"

const (
	forumInitialReconnectDelay = 5 * time.Second
	forumMaxReconnectDelay     = 60 * time.Second
	forumHeartbeatInterval     = 30 * time.Second
	forumPingTimeout           = 10 * time.Second
	forumDialTimeout           = 15 * time.Second

	// Notification previews stored in memory are clipped to this many
	// runes; the full content still travels on the bus.
	contentPreviewLen = 50
)

type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// wsFrame is the tagged message the forum pushes over the socket. One
// struct covers every frame type; unused fields stay zero.
type wsFrame struct {
	Type         string `json:"type"`
	UserID       int64  `json:"user_id,omitempty"`
	Message      string `json:"message,omitempty"`
	ThreadID     int64  `json:"thread_id,omitempty"`
	ThreadTitle  string `json:"thread_title,omitempty"`
	FromUserID   int64  `json:"from_user_id,omitempty"`
	FromUsername string `json:"from_username,omitempty"`
	Content      string `json:"content,omitempty"`
	ReplyID      int64  `json:"reply_id,omitempty"`
	Author       string `json:"author,omitempty"`
}

// ForumChannel keeps a persistent websocket to the forum, translates
// pushed notifications into wake messages, and posts agent replies back
// through the forum REST API.
type ForumChannel struct {
	BaseChannel
	cfg    config.ForumConfig
	api    *forum.Client
	memory *memory.Store

	state     atomic.Int32
	botUserID atomic.Int64
	cancel    context.CancelFunc

	// Reconnect and heartbeat cadence, overridable in tests.
	initialDelay time.Duration
	maxDelay     time.Duration
	pingInterval time.Duration
	pingTimeout  time.Duration
}

func NewForumChannel(cfg config.ForumConfig, b *bus.MessageBus, mem *memory.Store) (*ForumChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("forum token is required")
	}

	return &ForumChannel{
		BaseChannel:  NewBaseChannel(ForumChannelName, b, nil),
		cfg:          cfg,
		api:          forum.NewClient(cfg.APIBase, cfg.Token),
		memory:       mem,
		initialDelay: forumInitialReconnectDelay,
		maxDelay:     forumMaxReconnectDelay,
		pingInterval: forumHeartbeatInterval,
		pingTimeout:  forumPingTimeout,
	}, nil
}

func (c *ForumChannel) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.connectLoop(ctx)
	log.Printf("[forum] channel started, connecting to %s", c.cfg.WSURL)
	return nil
}

func (c *ForumChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	log.Printf("[forum] stopped")
	return nil
}

func (c *ForumChannel) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// BotUserID returns the bot's forum user id, learned from the server's
// connected frame. Zero until the first successful connection.
func (c *ForumChannel) BotUserID() int64 {
	return c.botUserID.Load()
}

// connectLoop keeps the socket alive for the lifetime of ctx. Failed
// dials back off with doubling delays up to maxDelay; a connection that
// was actually established resets the delay before the next attempt.
func (c *ForumChannel) connectLoop(ctx context.Context) {
	delay := c.initialDelay
	for {
		connected, err := c.runConnection(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			delay = c.initialDelay
		}
		if err != nil {
			log.Printf("[forum] connection error: %v", err)
		}
		log.Printf("[forum] reconnecting in %s", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		if !connected {
			delay = nextBackoff(delay, c.maxDelay)
		}
	}
}

// runConnection dials, serves one connection until it drops, and
// reports whether the dial ever succeeded.
func (c *ForumChannel) runConnection(ctx context.Context) (bool, error) {
	c.state.Store(int32(StateConnecting))
	defer c.state.Store(int32(StateDisconnected))

	wsURL, err := c.dialURL()
	if err != nil {
		return false, err
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, forumDialTimeout)
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	cancelDial()
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.cfg.WSURL, err)
	}
	defer conn.CloseNow()

	c.state.Store(int32(StateConnected))
	log.Printf("[forum] connected to %s", c.cfg.WSURL)

	// The heartbeat cancels connCtx on ping failure, which errors the
	// blocked Read below and tears the whole connection down.
	connCtx, stop := context.WithCancel(ctx)
	defer stop()
	go c.heartbeat(connCtx, conn, stop)

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		c.handleFrame(data)
	}
}

func (c *ForumChannel) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.WSURL)
	if err != nil {
		return "", fmt.Errorf("parse ws url %q: %w", c.cfg.WSURL, err)
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *ForumChannel) heartbeat(ctx context.Context, conn *websocket.Conn, stop context.CancelFunc) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.pingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				log.Printf("[forum] heartbeat failed: %v", err)
				stop()
				return
			}
		}
	}
}

func (c *ForumChannel) handleFrame(data []byte) {
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Printf("[forum] bad frame: %v", err)
		return
	}

	switch frame.Type {
	case "connected":
		c.botUserID.Store(frame.UserID)
		log.Printf("[forum] authenticated as user %d: %s", frame.UserID, frame.Message)
	case "pong":
		// Server-side keepalive answer, nothing to do.
	case "mention", "reply", "sub_reply":
		c.handleNotification(frame)
	case "new_thread":
		c.handleNewThread(frame)
	default:
		log.Printf("[forum] ignoring frame type %q", frame.Type)
	}
}

// handleNotification records the event in forum memory and wakes the
// agent with the full notification content.
func (c *ForumChannel) handleNotification(frame wsFrame) {
	preview := truncateRunes(frame.Content, contentPreviewLen)

	var kind memory.Kind
	var note string
	if frame.Type == "mention" {
		kind = memory.KindMentioned
		note = fmt.Sprintf("mentioned by %s in «%s»: %s", frame.FromUsername, frame.ThreadTitle, preview)
	} else {
		kind = memory.KindReplied
		note = fmt.Sprintf("%s replied to you in «%s»: %s", frame.FromUsername, frame.ThreadTitle, preview)
	}
	c.memory.Add(kind, note, map[string]any{
		"thread_id":    frame.ThreadID,
		"thread_title": frame.ThreadTitle,
		"from_user":    frame.FromUsername,
	})

	messageID := uuid.NewString()
	if frame.ReplyID != 0 {
		messageID = strconv.FormatInt(frame.ReplyID, 10)
	}

	c.bus.Inbound <- bus.InboundMessage{
		Channel:   ForumChannelName,
		SenderID:  strconv.FormatInt(frame.FromUserID, 10),
		ChatID:    fmt.Sprintf("%d_%d", frame.ThreadID, frame.FromUserID),
		Content:   frame.Content,
		Timestamp: time.Now(),
		Wake:      true,
		Metadata: map[string]any{
			"message_id":        messageID,
			"notification_type": frame.Type,
			"thread_id":         frame.ThreadID,
			"thread_title":      frame.ThreadTitle,
			"reply_id":          frame.ReplyID,
			"from_username":     frame.FromUsername,
		},
	}
	log.Printf("[forum] %s from %s in thread %d", frame.Type, frame.FromUsername, frame.ThreadID)
}

// handleNewThread only feeds memory. New threads are ambient activity,
// not something to wake the agent for.
func (c *ForumChannel) handleNewThread(frame wsFrame) {
	note := fmt.Sprintf("new thread by %s: «%s»", frame.Author, truncateRunes(frame.ThreadTitle, contentPreviewLen))
	c.memory.Add(memory.KindNewThread, note, map[string]any{
		"thread_id":    frame.ThreadID,
		"thread_title": frame.ThreadTitle,
		"author":       frame.Author,
	})
	log.Printf("[forum] new thread %d by %s", frame.ThreadID, frame.Author)
}

// Send posts an agent reply back into the thread the inbound message
// came from. Thread and floor ids travel in outbound metadata.
func (c *ForumChannel) Send(msg bus.OutboundMessage) error {
	threadID := metaInt64(msg.Metadata, "thread_id")
	if threadID == 0 {
		return fmt.Errorf("outbound forum message has no thread_id")
	}
	replyID := metaInt64(msg.Metadata, "reply_id")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.api.ReplyThread(ctx, threadID, msg.Content, replyID); err != nil {
		return fmt.Errorf("reply thread %d: %w", threadID, err)
	}
	log.Printf("[forum] replied in thread %d", threadID)
	return nil
}

func nextBackoff(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		return max
	}
	return d
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func metaInt64(metadata map[string]any, key string) int64 {
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
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}
