package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/pkg/types"
)

const (
	telegramBaseURL = "https://api.telegram.org"

	maxSendRetries = 3
	retryBaseDelay = time.Second
	minSendGap     = time.Second
)

// TelegramSink posts messages to the Telegram bot API. An empty bot
// token or chat ID disables delivery entirely.
type TelegramSink struct {
	httpClient *http.Client
	baseURL    string
	config     types.TelegramConfig
	logger     *zap.Logger

	lastSend time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// NewTelegramSink creates a sink for the configured bot and chat.
func NewTelegramSink(config types.TelegramConfig, logger *zap.Logger) *TelegramSink {
	return &TelegramSink{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    telegramBaseURL,
		config:     config,
		logger:     logger.Named("telegram"),
		sleep:      sleepCtx,
		now:        time.Now,
	}
}

// Enabled reports whether credentials are configured.
func (t *TelegramSink) Enabled() bool {
	return t.config.BotToken != "" && t.config.ChatID != ""
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// Send delivers one message. Calls are paced to at most one per
// second. Transport errors are retried with exponential backoff; HTTP
// error statuses, including 429, fail immediately so a misbehaving
// bot config does not hammer the API.
func (t *TelegramSink) Send(ctx context.Context, text string) error {
	if !t.Enabled() {
		t.logger.Debug("telegram disabled, discarding message")
		return nil
	}

	if gap := minSendGap - t.now().Sub(t.lastSend); gap > 0 {
		if err := t.sleep(ctx, gap); err != nil {
			return err
		}
	}
	t.lastSend = t.now()

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                t.config.ChatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.config.BotToken)

	var lastErr error
	for attempt := 1; attempt <= maxSendRetries; attempt++ {
		if attempt > 1 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-2))
			if err := t.sleep(ctx, delay); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.httpClient.Do(req)
		if err != nil {
			lastErr = err
			t.logger.Warn("telegram send failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, truncateBody(respBody))
		}
		if readErr != nil {
			lastErr = readErr
			continue
		}
		return nil
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", maxSendRetries, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncateBody(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
