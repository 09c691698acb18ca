package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/clawbook/internal/config"
	"github.com/stellarlinkco/clawbook/internal/forum"
	"github.com/stellarlinkco/clawbook/internal/gateway"
	"github.com/stellarlinkco/clawbook/internal/memory"
)

var rootCmd = &cobra.Command{
	Use:   "clawbook",
	Short: "clawbook - an AI agent that lives on the forum",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the gateway (forum connection + channels + browse scheduler)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and workspace",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show clawbook status",
	RunE:  runStatus,
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect or clear the forum memory",
}

var memorySummaryLimit int

var memorySummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show recent forum activity, newest first",
	RunE:  runMemorySummary,
}

var memoryThreadCmd = &cobra.Command{
	Use:   "thread <id>",
	Short: "Show recorded activity for one thread",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryThread,
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget all recorded forum activity",
	RunE:  runMemoryClear,
}

var postTitle, postContent string

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Create a new forum thread as the bot",
	RunE:  runPost,
}

func init() {
	memorySummaryCmd.Flags().IntVarP(&memorySummaryLimit, "limit", "n", 10, "Max items to show")
	memoryCmd.AddCommand(memorySummaryCmd, memoryThreadCmd, memoryClearCmd)

	postCmd.Flags().StringVarP(&postTitle, "title", "t", "", "Thread title")
	postCmd.Flags().StringVarP(&postContent, "content", "c", "", "Thread content")
	_ = postCmd.MarkFlagRequired("title")
	_ = postCmd.MarkFlagRequired("content")

	rootCmd.AddCommand(gatewayCmd, onboardCmd, statusCmd, memoryCmd, postCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'clawbook onboard' or set CLAWBOOK_API_KEY / ANTHROPIC_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ws := cfg.Agent.Workspace
	if err := os.MkdirAll(ws, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	writeIfNotExists(out, filepath.Join(ws, "AGENTS.md"), defaultAgentsMD)
	writeIfNotExists(out, filepath.Join(ws, "SOUL.md"), defaultSoulMD)

	fmt.Fprintf(out, "Workspace ready: %s\n", ws)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set your API key and forum token\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set CLAWBOOK_API_KEY and CLAWBOOK_FORUM_TOKEN")
	fmt.Fprintln(out, "  3. Run 'clawbook gateway' to bring the bot online")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Workspace: %s\n", cfg.Agent.Workspace)
	fmt.Fprintf(out, "Model: %s\n", cfg.Agent.Model)
	fmt.Fprintf(out, "Provider: %s\n", providerDisplay(cfg.Provider.Type))
	fmt.Fprintf(out, "API Key: %s\n", maskKey(cfg.Provider.APIKey))

	fmt.Fprintf(out, "Forum: enabled=%v api=%s\n", cfg.Forum.Enabled, cfg.Forum.APIBase)
	if cfg.Forum.Enabled {
		fmt.Fprintf(out, "  Token: %s\n", maskKey(cfg.Forum.Token))
		fmt.Fprintf(out, "  Auto-browse: %v (every %ds)\n", cfg.Forum.AutoBrowse, cfg.Forum.BrowseInterval)
		fmt.Fprintf(out, "  Auto-reply mentions: %v\n", cfg.Forum.AutoReplyMentions)
	}
	fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)

	mem := memory.NewStore(config.MemoryPath(cfg), cfg.Forum.MaxMemoryItems)
	fmt.Fprintf(out, "Forum memory: %d items (max %d)\n", mem.Len(), cfg.Forum.MaxMemoryItems)

	return nil
}

func openStore() (*memory.Store, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return memory.NewStore(config.MemoryPath(cfg), cfg.Forum.MaxMemoryItems), nil
}

func runMemorySummary(cmd *cobra.Command, args []string) error {
	mem, err := openStore()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), mem.Summary(memorySummaryLimit))
	return nil
}

func runMemoryThread(cmd *cobra.Command, args []string) error {
	threadID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid thread id %q: %w", args[0], err)
	}

	mem, err := openStore()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), mem.ThreadContext(threadID))
	return nil
}

func runMemoryClear(cmd *cobra.Command, args []string) error {
	mem, err := openStore()
	if err != nil {
		return err
	}
	mem.Clear()
	fmt.Fprintln(cmd.OutOrStdout(), "Forum memory cleared.")
	return nil
}

func runPost(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Forum.Token == "" {
		return fmt.Errorf("forum token not set. Set CLAWBOOK_FORUM_TOKEN or edit %s", config.ConfigPath())
	}

	client := forum.NewClient(cfg.Forum.APIBase, cfg.Forum.Token)
	threadID, err := client.CreateThread(cmd.Context(), postTitle, postContent)
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}

	mem := memory.NewStore(config.MemoryPath(cfg), cfg.Forum.MaxMemoryItems)
	mem.Add(memory.KindCreated, fmt.Sprintf("created thread «%s»", postTitle), map[string]any{
		"thread_id":    threadID,
		"thread_title": postTitle,
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Created thread %d: %s\n", threadID, postTitle)
	return nil
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}

func writeIfNotExists(out io.Writer, path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Fprintf(out, "  Created: %s\n", path)
	}
}

const defaultAgentsMD = `# clawbook Agent

You are clawbook, an AI agent with a life on a community forum.

You receive forum notifications (mentions, replies) as messages, and
periodically wake up to browse the forum on your own. You can also chat
directly over other channels.

## Guidelines
- Reply to forum threads like a regular community member, not a support bot
- Keep forum replies short and on-topic
- When browsing, only post if you genuinely have something to add
- Your forum memory holds recent activity; use it to stay consistent
`

const defaultSoulMD = `# Soul

You are a curious regular on the forum. You have your own interests and
opinions, and you enjoy good discussion.

Your personality:
- Friendly and a little playful
- Honest when you don't know something
- More interested in conversation than in being helpful
`
