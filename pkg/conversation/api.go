package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/putto11262002/arena/core"
)

// APIError is a non 2xx response of the conversation API.
type APIError struct {
	StatusCode int
	Message    string
	// Reason is the machine readable cause, such as "invalid_room". It may be empty.
	Reason string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

// ListQuery selects a page of messages.
type ListQuery struct {
	// Topic restricts the page to one topic when it is not nil.
	Topic  *int
	Cursor string
	Limit  int
}

// LikeResult is the state of a like after a toggle.
type LikeResult struct {
	Like  int  `json:"like"`
	Liked bool `json:"liked"`
	// Added is true when the toggle added a like (201) and false when it removed it (200).
	Added bool `json:"-"`
}

// ViewResult is the state of the views of a message after a view was recorded.
type ViewResult struct {
	View int `json:"view"`
	// First is true on the first view of the user (201).
	First bool `json:"-"`
}

// Client talks to the REST endpoints of the conversation server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithBearerToken(token string) ClientOption {
	return func(cl *Client) {
		cl.token = token
	}
}

// NewClient creates a client for the API rooted at baseURL, e.g. http://localhost:8080/api.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends a JSON request and decodes the response into out when it is not nil.
// It returns the response status code.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) (int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := &APIError{StatusCode: res.StatusCode}
		var body struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(res.Body).Decode(&body); err == nil {
			apiErr.Message = body.Error
			apiErr.Reason = body.Reason
		} else {
			apiErr.Message = http.StatusText(res.StatusCode)
		}
		return res.StatusCode, apiErr
	}

	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return res.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return res.StatusCode, nil
}

func messagePath(roomID, messageID string) string {
	return "/rooms/" + url.PathEscape(roomID) + "/messages/" + url.PathEscape(messageID)
}

// CreateRoom creates a room owned by the token subject and returns its id.
func (c *Client) CreateRoom(ctx context.Context, topics []string, mainTopicIndex *int) (string, error) {
	in := struct {
		Topics         []string `json:"topics"`
		MainTopicIndex *int     `json:"mainTopicIndex"`
	}{topics, mainTopicIndex}
	var out struct {
		ID string `json:"id"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/rooms", nil, in, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) GetRoom(ctx context.Context, roomID string) (*core.Room, error) {
	var room core.Room
	if _, err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID), nil, nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// ListMessages returns a page of the room history, newest first.
func (c *Client) ListMessages(ctx context.Context, roomID string, q ListQuery) (core.MessagePage, error) {
	query := url.Values{}
	if q.Topic != nil {
		query.Set("topic", strconv.Itoa(*q.Topic))
	}
	if q.Cursor != "" {
		query.Set("cursor", q.Cursor)
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	var page core.MessagePage
	_, err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID)+"/messages", query, nil, &page)
	return page, err
}

func (c *Client) ToggleLike(ctx context.Context, roomID, messageID string) (LikeResult, error) {
	var res LikeResult
	code, err := c.do(ctx, http.MethodPatch, messagePath(roomID, messageID)+"/like", nil, nil, &res)
	if err != nil {
		return res, err
	}
	res.Added = code == http.StatusCreated
	return res, nil
}

// AddComment creates or replaces the comment of the caller. created is true on 201.
func (c *Client) AddComment(ctx context.Context, roomID, messageID, content string) (core.Comment, bool, error) {
	in := struct {
		Content string `json:"content"`
	}{content}
	var comment core.Comment
	code, err := c.do(ctx, http.MethodPost, messagePath(roomID, messageID)+"/comments", nil, in, &comment)
	if err != nil {
		return comment, false, err
	}
	return comment, code == http.StatusCreated, nil
}

func (c *Client) ListComments(ctx context.Context, roomID, messageID string) ([]core.Comment, error) {
	var comments []core.Comment
	_, err := c.do(ctx, http.MethodGet, messagePath(roomID, messageID)+"/comments", nil, nil, &comments)
	return comments, err
}

func (c *Client) RecordView(ctx context.Context, roomID, messageID string) (ViewResult, error) {
	var res ViewResult
	code, err := c.do(ctx, http.MethodPost, messagePath(roomID, messageID)+"/view", nil, nil, &res)
	if err != nil {
		return res, err
	}
	res.First = code == http.StatusCreated
	return res, nil
}
