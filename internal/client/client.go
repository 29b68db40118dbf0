package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/inercia/helpdesk/internal/logging"
)

var (
	// ErrTicketNotFound is returned when the server does not know the ticket.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrUnavailable is returned when a scripted bot message index does not exist.
	ErrUnavailable = errors.New("not available")
)

// APIError is returned when the server answers with success=false.
type APIError struct {
	Op      string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return e.Op + ": request not successful"
	}
	return e.Op + ": " + e.Message
}

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

// Client provides HTTP methods for the support chat API.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiPrefix  string
	httpClient *http.Client
	limiter    *rate.Limiter
	dialer     *websocket.Dialer
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithAPIPrefix sets the API prefix (e.g., "/helpdesk"). Default is empty.
func WithAPIPrefix(prefix string) Option {
	return func(client *Client) {
		client.apiPrefix = strings.TrimRight(prefix, "/")
	}
}

// WithRateLimit limits outgoing requests to rps per second with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(client *Client) {
		if rps <= 0 {
			client.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a new client.
// baseURL should be the server address (e.g., "https://support.example.com").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		dialer: websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL of the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) apiURL(path string) string {
	return c.baseURL + c.apiPrefix + path
}

func ticketPath(ticketID string, rest string) string {
	return "/tickets/" + url.PathEscape(ticketID) + rest
}

// envelope carries the fields every response shares.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (e envelope) check(op string) error {
	if !e.Success {
		return &APIError{Op: op, Message: e.Message}
	}
	return nil
}

// CreateTicket submits the new-ticket form.
func (c *Client) CreateTicket(ctx context.Context, form url.Values) (*Ticket, error) {
	const op = "create ticket"
	var resp struct {
		envelope
		Ticket
	}
	err := c.do(ctx, op, http.MethodPost, c.apiURL("/tickets"),
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &resp)
	if err != nil {
		return nil, err
	}
	if err := resp.check(op); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("%s: response has no ticket id", op)
	}
	t := resp.Ticket
	return &t, nil
}

// LoadHistory returns the full message history of a ticket.
func (c *Client) LoadHistory(ctx context.Context, ticketID string) (*History, error) {
	const op = "load history"
	var resp History
	if err := c.do(ctx, op, http.MethodGet, c.apiURL(ticketPath(ticketID, "/messages")), "", nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &APIError{Op: op, Message: resp.Message}
	}
	return &resp, nil
}

// PollNewMessages asks for messages newer than lastSeenID (which may be empty).
func (c *Client) PollNewMessages(ctx context.Context, ticketID, lastSeenID string) (*NewMessages, error) {
	const op = "poll new messages"
	u := c.apiURL(ticketPath(ticketID, "/messages/new")) + "?" + url.Values{"last_seen_id": {lastSeenID}}.Encode()
	var resp NewMessages
	if err := c.do(ctx, op, http.MethodGet, u, "", nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &APIError{Op: op, Message: resp.Message}
	}
	return &resp, nil
}

// PollUnread returns the session-wide unread count.
func (c *Client) PollUnread(ctx context.Context) (*UnreadCount, error) {
	const op = "poll unread"
	var resp UnreadCount
	if err := c.do(ctx, op, http.MethodGet, c.apiURL("/notifications/unread"), "", nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &APIError{Op: op, Message: resp.Message}
	}
	return &resp, nil
}

// SendMessage posts a user message to a ticket.
func (c *Client) SendMessage(ctx context.Context, ticketID, text string) (*SendResult, error) {
	const op = "send message"
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal: %w", op, err)
	}
	var resp SendResult
	if err := c.do(ctx, op, http.MethodPost, c.apiURL(ticketPath(ticketID, "/messages")),
		"application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &APIError{Op: op, Message: resp.Message}
	}
	return &resp, nil
}

// FetchBotMessage asks the server to deliver the n-th (1-based) scripted message.
// ErrUnavailable is returned when the index does not exist.
func (c *Client) FetchBotMessage(ctx context.Context, ticketID string, n int) (*BotMessage, error) {
	const op = "fetch bot message"
	var resp BotMessage
	err := c.do(ctx, op, http.MethodGet, c.apiURL(ticketPath(ticketID, "/bot/"+strconv.Itoa(n))), "", nil, &resp)
	if err != nil {
		if errors.Is(err, ErrTicketNotFound) {
			return nil, fmt.Errorf("%s %d: %w", op, n, ErrUnavailable)
		}
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s %d: %w", op, n, ErrUnavailable)
	}
	return &resp, nil
}

// do performs a request and decodes a JSON body into out.
// A 404 maps to ErrTicketNotFound.
func (c *Client) do(ctx context.Context, op, method, u, contentType string, body io.Reader, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limit: %w", op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	logging.Client().Debug("api request",
		"op", op,
		"method", method,
		"status", resp.StatusCode)

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrTicketNotFound)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}
