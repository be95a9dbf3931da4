package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const maxCaptionRunes = 1024

// Notifier delivers a rendered notification for a pair.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// TelegramNotifier pushes messages through the Telegram Bot API. When a photo
// URL is configured it tries sendPhoto by URL first, then downloads and
// uploads the image, and finally falls back to a plain text sendMessage.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	photoURL string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL, photoURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		photoURL: photoURL,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify renders and delivers the message, walking the fallback ladder.
func (n *TelegramNotifier) Notify(ctx context.Context, msg Message) error {
	text := Render(msg)

	if n.photoURL != "" {
		caption := truncateCaption(text)

		if err := n.sendPhotoByURL(ctx, caption); err == nil {
			n.logSent(msg, "photo_url")
			return nil
		} else {
			n.logger.Warn().Err(err).Msg("sendPhoto via URL failed")
		}

		if err := n.sendPhotoUpload(ctx, caption); err == nil {
			n.logSent(msg, "photo_upload")
			return nil
		} else {
			n.logger.Warn().Err(err).Msg("sendPhoto via upload failed")
		}
	}

	if err := n.sendText(ctx, text); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	n.logSent(msg, "text")
	return nil
}

func (n *TelegramNotifier) logSent(msg Message, via string) {
	n.logger.Info().Str("pair", msg.Pair.String()).Str("type", string(msg.Type)).Str("via", via).Msg("notification sent")
}

func (n *TelegramNotifier) sendPhotoByURL(ctx context.Context, caption string) error {
	payload := map[string]string{
		"chat_id":    n.chatID,
		"photo":      n.photoURL,
		"caption":    caption,
		"parse_mode": "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return n.post(ctx, "sendPhoto", "application/json", bytes.NewReader(body))
}

func (n *TelegramNotifier) sendPhotoUpload(ctx context.Context, caption string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.photoURL, nil)
	if err != nil {
		return err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("download photo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download photo: status %d", resp.StatusCode)
	}
	img, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("download photo: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("chat_id", n.chatID); err != nil {
		return err
	}
	if err := writer.WriteField("caption", caption); err != nil {
		return err
	}
	if err := writer.WriteField("parse_mode", "HTML"); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("photo", "image.png")
	if err != nil {
		return err
	}
	if _, err := part.Write(img); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	return n.post(ctx, "sendPhoto", writer.FormDataContentType(), &buf)
}

func (n *TelegramNotifier) sendText(ctx context.Context, text string) error {
	payload := map[string]any{
		"chat_id":                  n.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return n.post(ctx, "sendMessage", "application/json", bytes.NewReader(body))
}

func (n *TelegramNotifier) post(ctx context.Context, method, contentType string, body io.Reader) error {
	url := fmt.Sprintf("%s/bot%s/%s", n.baseURL, n.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram %s: status %d", method, resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram %s: ok=false", method)
	}
	return nil
}

func truncateCaption(text string) string {
	runes := []rune(text)
	if len(runes) <= maxCaptionRunes {
		return text
	}
	return string(runes[:maxCaptionRunes-3]) + "..."
}

var _ Notifier = (*TelegramNotifier)(nil)
