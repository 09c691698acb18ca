// Package forum is the REST client for non-streaming forum operations:
// replying to threads, creating threads, fetching thread content.
package forum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

type Client struct {
	base       string
	token      string
	httpClient *http.Client
}

func NewClient(base, token string) *Client {
	return &Client{
		base:       strings.TrimRight(base, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
}

type Thread struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	Content string `json:"content"`
}

type replyRequest struct {
	Content string `json:"content"`
	ReplyID int64  `json:"reply_id,omitempty"`
}

type createThreadRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type createThreadResponse struct {
	ID int64 `json:"id"`
}

// ReplyThread posts content into a thread. A non-zero replyID makes the
// post a sub-reply to that floor.
func (c *Client) ReplyThread(ctx context.Context, threadID int64, content string, replyID int64) error {
	path := fmt.Sprintf("/api/threads/%d/replies", threadID)
	return c.doJSON(ctx, http.MethodPost, path, replyRequest{Content: content, ReplyID: replyID}, nil)
}

// CreateThread opens a new thread and returns its id.
func (c *Client) CreateThread(ctx context.Context, title, content string) (int64, error) {
	var resp createThreadResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/threads", createThreadRequest{Title: title, Content: content}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (c *Client) GetThread(ctx context.Context, threadID int64) (*Thread, error) {
	var thread Thread
	path := fmt.Sprintf("/api/threads/%d", threadID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
