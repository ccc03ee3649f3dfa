package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sudo-init-do/nearhub/internal/config"
)

// PlunkMailer sends through the Plunk transactional API.
type PlunkMailer struct {
	apiKey string
	from   string
	reply  string
	url    string
	client *http.Client
}

func NewPlunkMailer(cfg config.Mail) *PlunkMailer {
	url := cfg.PlunkAPIURL
	if url == "" {
		url = "https://api.useplunk.com/v1/send"
	}
	return &PlunkMailer{
		apiKey: cfg.PlunkAPIKey,
		from:   cfg.PlunkFrom,
		reply:  cfg.ReplyTo,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type plunkSendBody struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	From    string `json:"from,omitempty"`
	Reply   string `json:"reply,omitempty"`
}

func (m *PlunkMailer) Send(ctx context.Context, to, subject, body string) error {
	b, err := json.Marshal(plunkSendBody{To: to, Subject: subject, Body: body, From: m.from, Reply: m.reply})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if len(msg) > 0 {
		return fmt.Errorf("plunk send failed: status=%d body=%s", resp.StatusCode, msg)
	}
	return fmt.Errorf("plunk send failed: status=%d", resp.StatusCode)
}
