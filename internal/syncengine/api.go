package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mataid/matchat/internal/apperr"
	"github.com/mataid/matchat/internal/model"
)

// APIClient talks to the server's HTTP query interface. The realtime
// socket carries live events; everything list-shaped comes through
// here.
type APIClient struct {
	baseURL string
	http    *http.Client
}

// NewAPIClient creates a client for the server at baseURL.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Register creates or updates the user's profile on the server.
func (c *APIClient) Register(ctx context.Context, u model.User) error {
	return c.do(ctx, http.MethodPost, "/api/users", u, nil)
}

// Users fetches all registered users.
func (c *APIClient) Users(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Search finds users matching query, excluding the requesting user.
func (c *APIClient) Search(ctx context.Context, query, selfID string) ([]model.User, error) {
	path := "/api/users/search?query=" + url.QueryEscape(query) +
		"&currentUserId=" + url.QueryEscape(selfID)
	var users []model.User
	if err := c.do(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Connections fetches the user's connected profiles.
func (c *APIClient) Connections(ctx context.Context, userID string) ([]model.User, error) {
	var users []model.User
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID)+"/connections", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// AddConnection connects userID to targetID on the server.
func (c *APIClient) AddConnection(ctx context.Context, userID, targetID string) error {
	body := map[string]string{"targetUserId": targetID}
	return c.do(ctx, http.MethodPost, "/api/users/"+url.PathEscape(userID)+"/connections", body, nil)
}

// RemoveConnection removes the connection between userID and targetID.
func (c *APIClient) RemoveConnection(ctx context.Context, userID, targetID string) error {
	path := "/api/users/" + url.PathEscape(userID) + "/connections/" + url.PathEscape(targetID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Conversations fetches the user's conversation summaries.
func (c *APIClient) Conversations(ctx context.Context, userID string) ([]model.Summary, error) {
	var summaries []model.Summary
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(userID), nil, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// Messages fetches the full message list of a conversation.
func (c *APIClient) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var msgs []model.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(conversationID), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &apperr.TransportError{Op: method + " " + path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := apiErr.Error
		if msg == "" {
			msg = resp.Status
		}
		switch resp.StatusCode {
		case http.StatusBadRequest:
			return &apperr.ValidationError{Reason: msg}
		case http.StatusNotFound:
			return &apperr.NotFoundError{Entity: "resource", ID: path}
		default:
			return fmt.Errorf("%s %s: server returned %s", method, path, msg)
		}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
