// Package mailapi talks to the remote mailbox provider (a Microsoft Graph
// style HTTP API): client-credentials auth, unread fetch, mark-read and send.
package mailapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

type Message struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	Subject     string       `json:"subject"`
	BodyText    string       `json:"body_text"`
	BodyHTML    string       `json:"body_html"`
	Attachments []Attachment `json:"attachments"`
}

type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	User         string
	Timeout      time.Duration
}

type Client struct {
	cfg    Config
	client *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// authenticate fetches (or reuses) a bearer token via the client-credentials
// grant. Tokens are cached until shortly before expiry.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mail api auth: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("mail api auth: status %d", resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("mail api auth: decode token: %w", err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("mail api auth: empty access token")
	}

	c.token = result.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(result.ExpiresIn-60) * time.Second)
	return c.token, nil
}

// FetchUnread returns the unread messages in the configured user's folder.
// Messages are NOT marked read here; that happens only after the delivery
// pipeline confirms the downstream side effect.
func (c *Client) FetchUnread(ctx context.Context, folder string) ([]Message, error) {
	token, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/users/%s/mailFolders/%s/messages?$filter=isRead eq false",
		c.cfg.BaseURL, url.PathEscape(c.cfg.User), url.PathEscape(folder))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch unread: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("fetch unread: status %d", resp.StatusCode)
	}

	var result struct {
		Value []struct {
			ID   string `json:"id"`
			From struct {
				EmailAddress struct {
					Address string `json:"address"`
				} `json:"emailAddress"`
			} `json:"from"`
			Subject string `json:"subject"`
			Body    struct {
				ContentType string `json:"contentType"`
				Content     string `json:"content"`
			} `json:"body"`
			Attachments []struct {
				Name         string `json:"name"`
				ContentType  string `json:"contentType"`
				ContentBytes []byte `json:"contentBytes"`
			} `json:"attachments"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("fetch unread: decode: %w", err)
	}

	messages := make([]Message, 0, len(result.Value))
	for _, m := range result.Value {
		msg := Message{
			ID:      m.ID,
			From:    m.From.EmailAddress.Address,
			Subject: m.Subject,
		}
		if strings.EqualFold(m.Body.ContentType, "html") {
			msg.BodyHTML = m.Body.Content
		} else {
			msg.BodyText = m.Body.Content
		}
		for _, a := range m.Attachments {
			msg.Attachments = append(msg.Attachments, Attachment{
				Name:        a.Name,
				ContentType: a.ContentType,
				Content:     a.ContentBytes,
			})
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// MarkRead flags a message as read. The provider treats this as idempotent;
// marking an already-read message succeeds.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	token, err := c.authenticate(ctx)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/users/%s/messages/%s",
		c.cfg.BaseURL, url.PathEscape(c.cfg.User), url.PathEscape(messageID))

	body, _ := json.Marshal(map[string]bool{"isRead": true})
	req, err := http.NewRequestWithContext(ctx, "PATCH", endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mark read %s: %w", messageID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mark read %s: status %d", messageID, resp.StatusCode)
	}
	return nil
}

// SendMail sends a plain-text message from the configured user.
func (c *Client) SendMail(ctx context.Context, to, subject, body string) error {
	token, err := c.authenticate(ctx)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", c.cfg.BaseURL, url.PathEscape(c.cfg.User))

	payload := map[string]interface{}{
		"message": map[string]interface{}{
			"subject": subject,
			"body": map[string]string{
				"contentType": "Text",
				"content":     body,
			},
			"toRecipients": []map[string]interface{}{
				{"emailAddress": map[string]string{"address": to}},
			},
		},
	}

	jsonBody, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send mail: status %d", resp.StatusCode)
	}
	return nil
}
