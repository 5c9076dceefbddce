package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/warp/library-ledger/ledger"
)

// TelegramSender posts messages through the Bot API sendMessage method.
type TelegramSender struct {
	BaseURL string // e.g. https://api.telegram.org/bot
	Token   string
	Client  *http.Client
}

func NewTelegramSender(baseURL, token string) *TelegramSender {
	return &TelegramSender{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramSender) Name() string { return "telegram" }

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramSender) Send(ctx context.Context, to ledger.Reader, _, text string) error {
	if to.TelegramChatID == "" {
		return ErrNoContact
	}

	params := url.Values{}
	params.Set("chat_id", to.TelegramChatID)
	params.Set("text", text)
	endpoint := t.BaseURL + t.Token + "/sendMessage?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		// url.Error carries the token in the URL
		return fmt.Errorf("telegram send to chat %s failed", to.TelegramChatID)
	}
	defer resp.Body.Close()

	var body telegramResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return fmt.Errorf("telegram status %d: unreadable response", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || !body.OK {
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode, body.Description)
	}
	return nil
}
