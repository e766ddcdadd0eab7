// Package telegram delivers alerts through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrNoChat is returned by DiscoverChatID when the bot has no pending updates
// carrying a chat.
var ErrNoChat = errors.New("telegram: no chat found in updates, send the bot a message first")

// APIError is a non-OK reply from the Bot API.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: status %d: %s", e.Method, e.StatusCode, e.Description)
}

// Client sends messages to a single chat.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	chatID     int64
	logger     *slog.Logger
}

// NewClient creates a Bot API client. chatID may be zero until SetChatID is
// called, which is the case when the recipient is discovered at startup.
func NewClient(baseURL, token string, chatID int64, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		chatID:     chatID,
		logger:     logger,
	}
}

// ChatID returns the current recipient.
func (c *Client) ChatID() int64 { return c.chatID }

// SetChatID sets the recipient. Not safe for use concurrently with sends.
func (c *Client) SetChatID(id int64) { c.chatID = id }

// SendPhoto uploads the image at path with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open photo: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("chat_id", strconv.FormatInt(c.chatID, 10)); err != nil {
		return fmt.Errorf("write chat_id: %w", err)
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return fmt.Errorf("write caption: %w", err)
		}
	}
	part, err := mw.CreateFormFile("photo", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create photo part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy photo: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	return c.call(ctx, "sendPhoto", mw.FormDataContentType(), &body, nil)
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// SendMessage sends an HTML-formatted text message.
func (c *Client) SendMessage(ctx context.Context, html string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                c.chatID,
		Text:                  html,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.call(ctx, "sendMessage", "application/json", bytes.NewReader(payload), nil)
}

// DiscoverChatID returns the chat of the most recent update the bot received.
func (c *Client) DiscoverChatID(ctx context.Context) (int64, error) {
	var updates []update
	if err := c.call(ctx, "getUpdates", "", nil, &updates); err != nil {
		return 0, err
	}
	for i := len(updates) - 1; i >= 0; i-- {
		if chat := updates[i].chat(); chat != nil {
			c.logger.Info("discovered telegram chat", "chat_id", chat.ID, "chat_type", chat.Type)
			return chat.ID, nil
		}
	}
	return 0, ErrNoChat
}

func (c *Client) call(ctx context.Context, method, contentType string, body io.Reader, result any) error {
	httpMethod := http.MethodPost
	if body == nil {
		httpMethod = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, c.baseURL+"/bot"+c.token+"/"+method, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The URL embeds the token; keep it out of logs.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return fmt.Errorf("telegram %s request: %w", method, err)
	}
	defer resp.Body.Close()

	var r apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{Method: method, StatusCode: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK || !r.OK {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: r.Description}
	}
	if result != nil && len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, result); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

// Bot API response types.

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *message `json:"message"`
	ChannelPost   *message `json:"channel_post"`
	EditedMessage *message `json:"edited_message"`
}

type message struct {
	Chat chat `json:"chat"`
}

type chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

func (u update) chat() *chat {
	for _, m := range []*message{u.Message, u.ChannelPost, u.EditedMessage} {
		if m != nil && m.Chat.ID != 0 {
			return &m.Chat
		}
	}
	return nil
}
