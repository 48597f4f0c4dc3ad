package alixiasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Alixia HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Turns wait for the answer, so
// the timeout is longer than a plain lookup needs.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  45 * time.Second,
	}
}

// Turn is what a client sends.
type Turn struct {
	ClientID     string   `json:"client_id,omitempty"`
	PersonID     string   `json:"person_id,omitempty"`
	Message      string   `json:"message,omitempty"`
	Payload      any      `json:"payload,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Language     string   `json:"language,omitempty"`
	SessionType  string   `json:"session_type,omitempty"`
	Quiet        bool     `json:"quiet,omitempty"`
}

// Answer is what comes back, for a turn or pushed later.
type Answer struct {
	TurnID      string `json:"turn_id,omitempty"`
	TicketID    string `json:"ticket_id"`
	ToClient    string `json:"to_client"`
	Message     string `json:"message"`
	Explanation string `json:"explanation,omitempty"`
	Payload     any    `json:"payload,omitempty"`
	Capability  string `json:"capability,omitempty"`
	Language    string `json:"language,omitempty"`
	Unsolicited bool   `json:"unsolicited,omitempty"`
}

type Capability struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Rooms       []string `json:"rooms"`
}

type Room struct {
	Room         string `json:"room"`
	State        string `json:"state"`
	Capabilities int    `json:"capabilities"`
	Sent         int64  `json:"sent"`
	Received     int64  `json:"received"`
	Pending      int64  `json:"pending"`
	Stalled      int64  `json:"stalled"`
}

type HistoryEntry struct {
	TicketID     string   `json:"ticket_id"`
	ClientID     string   `json:"client_id"`
	Message      string   `json:"message"`
	Reply        string   `json:"reply"`
	Capabilities []string `json:"capabilities"`
	TS           string   `json:"ts"`
}

// Event represents a log entry.
type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts"`
	Type     string `json:"type"`
	TicketID string `json:"ticket_id,omitempty"`
	Room     string `json:"room,omitempty"`
	Payload  any    `json:"payload"`
}

// PaginatedEvents wraps event lists with a cursor.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Ask runs one turn and waits for its answer.
func (c *Client) Ask(ctx context.Context, t Turn) (Answer, error) {
	var resp Answer
	err := c.do(ctx, http.MethodPost, "turns", t, &resp)
	return resp, err
}

// Messages collects answers pushed to clientID since the last call.
func (c *Client) Messages(ctx context.Context, clientID string) ([]Answer, error) {
	var resp struct {
		Items []Answer `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "clients/"+url.PathEscape(clientID)+"/messages", nil, &resp)
	return resp.Items, err
}

func (c *Client) Capabilities(ctx context.Context) ([]Capability, error) {
	var resp struct {
		Items []Capability `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "capabilities", nil, &resp)
	return resp.Items, err
}

func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	var resp struct {
		Items []Room `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "rooms", nil, &resp)
	return resp.Items, err
}

func (c *Client) History(ctx context.Context, clientID string, limit int) ([]HistoryEntry, error) {
	q := url.Values{}
	if clientID != "" {
		q.Set("client_id", clientID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Items []HistoryEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "history?"+q.Encode(), nil, &resp)
	return resp.Items, err
}

// EventsAfter lists events newer than cursor, oldest first.
func (c *Client) EventsAfter(ctx context.Context, cursor int64, limit int) (PaginatedEvents, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(cursor, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, "events?"+q.Encode(), nil, &resp)
	return resp, err
}

// LatestEvents lists the newest events, optionally filtered by type.
func (c *Client) LatestEvents(ctx context.Context, evtType string, limit int) (PaginatedEvents, error) {
	q := url.Values{}
	if evtType != "" {
		q.Set("type", evtType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, "events?"+q.Encode(), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
