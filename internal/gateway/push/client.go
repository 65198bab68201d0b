package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pushgate-labs/pushgate/internal/gateway"
)

var _ gateway.Client = (*Client)(nil)

// Client is a thin wrapper over the push provider's HTTP API.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

// New creates a provider client. credentialsPath points at a file holding
// the bearer token for the send endpoints.
func New(rawURL, credentialsPath string, timeout time.Duration) (*Client, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" {
		return nil, fmt.Errorf("base url must include scheme")
	}
	token, err := readCredentials(credentialsPath)
	if err != nil {
		return nil, err
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return &Client{
		baseURL: parsed,
		token:   token,
		http: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func readCredentials(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("credentials path is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read credentials: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("credentials file %s is empty", path)
	}
	return token, nil
}

// Ping checks provider health.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve("/ping"), nil)
	if err != nil {
		return err
	}
	c.decorate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping failed: %s", resp.Status)
	}
	return nil
}

// Send delivers one message to a single token or topic.
func (c *Client) Send(ctx context.Context, msg *gateway.Message) error {
	var payload commonResponse[struct{}]
	if err := c.post(ctx, "/v1/messages", msg, &payload); err != nil {
		return err
	}
	if payload.Code != http.StatusOK {
		return fmt.Errorf("send rejected: %s", payload.Message)
	}
	return nil
}

type multicastRequest struct {
	Tokens  []string         `json:"tokens"`
	Message *gateway.Message `json:"message"`
}

// SendMulticast delivers one message to a token batch. The provider caps
// batch size; chunking is the caller's job.
func (c *Client) SendMulticast(ctx context.Context, msg *gateway.Message, tokens []string) (gateway.MulticastResult, error) {
	var payload commonResponse[gateway.MulticastResult]
	req := multicastRequest{Tokens: tokens, Message: msg}
	if err := c.post(ctx, "/v1/messages:batch", req, &payload); err != nil {
		return gateway.MulticastResult{}, err
	}
	if payload.Code != http.StatusOK {
		return gateway.MulticastResult{}, fmt.Errorf("multicast rejected: %s", payload.Message)
	}
	return payload.Data, nil
}

type topicRequest struct {
	Tokens []string `json:"tokens"`
}

// SubscribeToTopic binds tokens to a topic on the provider side.
func (c *Client) SubscribeToTopic(ctx context.Context, topic string, tokens []string) error {
	return c.topicCall(ctx, topic, "subscribe", tokens)
}

// UnsubscribeFromTopic removes tokens from a topic on the provider side.
func (c *Client) UnsubscribeFromTopic(ctx context.Context, topic string, tokens []string) error {
	return c.topicCall(ctx, topic, "unsubscribe", tokens)
}

func (c *Client) topicCall(ctx context.Context, topic, op string, tokens []string) error {
	if strings.TrimSpace(topic) == "" {
		return fmt.Errorf("topic is required")
	}
	var payload commonResponse[struct{}]
	endpoint := fmt.Sprintf("/v1/topics/%s:%s", url.PathEscape(topic), op)
	if err := c.post(ctx, endpoint, topicRequest{Tokens: tokens}, &payload); err != nil {
		return err
	}
	if payload.Code != http.StatusOK {
		return fmt.Errorf("topic %s rejected: %s", op, payload.Message)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(endpoint), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s http status %s", endpoint, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) resolve(p string) string {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, p)
	return u.String()
}

func (c *Client) decorate(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// commonResponse models the provider's standard response envelope.
type commonResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}
