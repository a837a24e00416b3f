// Package telegram implements the minimal slice of the Bot API this
// service needs: sendMessage, getUpdates long polling, and command
// registration.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options parameterise the Bot API client.
type Options struct {
	BotToken string
	BaseURL  string
	Timeout  time.Duration
}

// Client talks to the Telegram Bot API over HTTP.
type Client struct {
	opts    Options
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewClient constructs a Bot API client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &Client{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "telegram").Logger(),
	}
}

// Update is one getUpdates result entry.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is the inbound chat message we care about.
type Message struct {
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text string `json:"text"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// SendMessage delivers text to a chat. Silent messages arrive without a
// notification sound.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, silent bool) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if silent {
		payload["disable_notification"] = true
	}

	_, err := c.call(ctx, "sendMessage", payload, 0)
	return err
}

// GetUpdates long-polls for new updates past the given offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	seconds := int(timeout / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	payload := map[string]any{
		"offset":          offset,
		"timeout":         seconds,
		"allowed_updates": []string{"message"},
	}

	// The HTTP deadline must outlive the server-side long-poll window.
	result, err := c.call(ctx, "getUpdates", payload, timeout+10*time.Second)
	if err != nil {
		return nil, err
	}

	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

// RegisterCommands publishes the bot command menu. Best effort.
func (c *Client) RegisterCommands(ctx context.Context) error {
	payload := map[string]any{
		"commands": []map[string]string{
			{"command": "balance", "description": "Show RunPod balance and time remaining"},
		},
	}
	_, err := c.call(ctx, "setMyCommands", payload, 0)
	return err
}

func (c *Client) call(ctx context.Context, method string, payload any, timeout time.Duration) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.opts.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.client
	if timeout > client.Timeout {
		clone := *client
		clone.Timeout = timeout
		client = &clone
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send %s request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("telegram %s status %d", method, resp.StatusCode)
	}

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !result.OK {
		if result.Description != "" {
			return nil, fmt.Errorf("telegram %s: %s", method, result.Description)
		}
		return nil, fmt.Errorf("telegram %s returned ok=false", method)
	}

	return result.Result, nil
}
