package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
)

// Telegram pushes operator alerts through the Bot API. With no token or
// chat configured every send is a logged no-op, which keeps the manual
// captcha path an optional feature rather than a hard dependency.
type Telegram struct {
	token  string
	chatID string
	client *http.Client
}

func NewTelegram(token, chatID string, client *http.Client) *Telegram {
	return &Telegram{token: token, chatID: chatID, client: client}
}

func (t *Telegram) IsEnabled() bool {
	return t != nil && t.token != "" && t.chatID != ""
}

// Deliver sends the challenge screenshot with the solve link as caption.
func (t *Telegram) Deliver(ctx context.Context, solveURL string, screenshot []byte) error {
	caption := fmt.Sprintf("Captcha needs a human.\nSolve it here: %s", solveURL)
	if len(screenshot) == 0 {
		return t.SendMessage(ctx, caption)
	}
	return t.sendPhoto(ctx, caption, screenshot)
}

// SendMessage posts a plain text message to the configured chat.
func (t *Telegram) SendMessage(ctx context.Context, text string) error {
	if !t.IsEnabled() {
		log.Printf("[notify] telegram disabled, dropping message: %.80s", text)
		return nil
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	w.WriteField("chat_id", t.chatID)
	w.WriteField("text", text)
	w.Close()

	return t.post(ctx, "sendMessage", &body, w.FormDataContentType())
}

func (t *Telegram) sendPhoto(ctx context.Context, caption string, png []byte) error {
	if !t.IsEnabled() {
		log.Printf("[notify] telegram disabled, dropping photo: %.80s", caption)
		return nil
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	w.WriteField("chat_id", t.chatID)
	w.WriteField("caption", caption)
	part, err := w.CreateFormFile("photo", "captcha.png")
	if err != nil {
		return err
	}
	if _, err := part.Write(png); err != nil {
		return err
	}
	w.Close()

	return t.post(ctx, "sendPhoto", &body, w.FormDataContentType())
}

func (t *Telegram) post(ctx context.Context, method string, body io.Reader, contentType string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/%s", t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	res, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return fmt.Errorf("telegram %s: status %d: %s", method, res.StatusCode, raw)
	}
	return nil
}
