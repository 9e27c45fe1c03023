package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/vadim/prodesk/internal/auth"
	"github.com/vadim/prodesk/internal/chat/entity"
)

const (
	defaultTimeout = 30 * time.Second

	// MaxAttachmentSize is the upload ceiling, enforced client-side before
	// any bytes leave the process.
	MaxAttachmentSize = 5 << 20
)

// Client is the marketplace REST API client the conversation core reads
// through: conversation summaries, full detail, create-or-return and
// attachment uploads.
type Client struct {
	baseURL    string
	tokens     auth.TokenSource
	httpClient *http.Client
}

// ClientOption is a function that configures the Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New creates a new marketplace API client
func New(baseURL string, tokens auth.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the API origin, used for resolving server-relative
// attachment URLs.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError represents an error response from the marketplace API
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace API error: %s (status: %d)", e.Message, e.Status)
}

type errorResponse struct {
	Error string `json:"error"`
}

// ListConversations retrieves every conversation the current actor
// participates in, in summary form.
// GET /chat
func (c *Client) ListConversations(ctx context.Context) ([]entity.Conversation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/chat", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var out []entity.Conversation
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConversation retrieves one conversation with its complete message
// history.
// GET /chat/{roomId}
func (c *Client) GetConversation(ctx context.Context, roomID string) (*entity.Conversation, error) {
	if roomID == "" {
		return nil, entity.ErrEmptyRoomID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/chat/"+roomID, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var out entity.Conversation
	if err := c.do(req, &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, entity.ErrConversationNotFound
		}
		return nil, err
	}
	return &out, nil
}

// CreateConversationInput represents input for initiating contact.
type CreateConversationInput struct {
	TargetUserID string `json:"target_user_id"`
}

// CreateConversation creates a conversation with the target actor, or returns
// the existing one. Used when contact starts outside the chat surface.
// POST /chat
func (c *Client) CreateConversation(ctx context.Context, targetUserID string) (*entity.Conversation, error) {
	if targetUserID == "" {
		return nil, entity.ErrInvalidRecipient
	}

	body, err := json.Marshal(CreateConversationInput{TargetUserID: targetUserID})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out entity.Conversation
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadAttachmentInput represents input for uploading an attachment.
type UploadAttachmentInput struct {
	Filename    string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// UploadAttachment uploads a file and returns the attachment descriptor to
// include in a subsequent send.
// POST /chat/attachment (multipart, field "file")
func (c *Client) UploadAttachment(ctx context.Context, in UploadAttachmentInput) (*entity.Attachment, error) {
	if in.Size > MaxAttachmentSize {
		return nil, entity.ErrAttachmentTooLarge
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", in.Filename)
	if err != nil {
		return nil, fmt.Errorf("creating multipart field: %w", err)
	}
	// Guard against lying Size values: reading one byte past the ceiling
	// fails the upload before the request is built.
	n, err := io.Copy(part, io.LimitReader(in.Reader, MaxAttachmentSize+1))
	if err != nil {
		return nil, fmt.Errorf("buffering attachment: %w", err)
	}
	if n > MaxAttachmentSize {
		return nil, entity.ErrAttachmentTooLarge
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/attachment", &buf)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out entity.Attachment
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do executes an HTTP request with the current bearer credential and decodes
// the response
func (c *Client) do(req *http.Request, out interface{}) error {
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w (status %d)", entity.ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
			return &APIError{Status: resp.StatusCode, Message: string(body)}
		}
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
