package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MikeSquared-Agency/tenere/internal/dispatcher"
)

const defaultAPIURL = "https://api.telegram.org"

type Client struct {
	token  string
	client *http.Client
	logger *slog.Logger
	apiURL string
}

func NewClient(token string, logger *slog.Logger) *Client {
	return &Client{
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
		apiURL: defaultAPIURL,
		logger: logger,
	}
}

// SendMessage posts text to chatID and returns the new message id.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}

	body, err := json.Marshal(map[string]any{
		"chat_id": id,
		"text":    text,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.apiURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	var tgResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description,omitempty"`
		Result      struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &tgResp); err != nil {
		return 0, fmt.Errorf("parse telegram response (status %d): %w", resp.StatusCode, err)
	}
	if !tgResp.OK {
		return 0, fmt.Errorf("telegram error (status %d): %s", resp.StatusCode, tgResp.Description)
	}

	c.logger.Debug("sent telegram message", "chat_id", chatID, "message_id", tgResp.Result.MessageID)
	return tgResp.Result.MessageID, nil
}

// Reply renders in and sends it to the chat it targets.
func (c *Client) Reply(ctx context.Context, in dispatcher.Instruction) error {
	_, err := c.SendMessage(ctx, in.ChatID, Render(in))
	return err
}
