// Package api is the client side of the chat server's HTTP endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/puyokura/vibechat/model"
)

// ErrInvalidResponse is returned when the server answers with a body that breaks the data model.
var ErrInvalidResponse = errors.New("invalid response")

// Error is a non-success HTTP response.
type Error struct {
	Status  int
	Message string // Server-provided, may be empty
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned status %d", e.Status)
}

// UserMessage returns the message the server wants shown to the user.
func (e *Error) UserMessage() string {
	return e.Message
}

// Client talks to the chat server. Session cookies live in its jar, which is
// shared with the push transport so both authenticate the same way.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. It must carry a cookie jar.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New creates a client rooted at baseURL, e.g. "http://localhost:8999/api".
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing api url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api url %q must be http or https", baseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	c := &Client{
		base:   base,
		http:   &http.Client{Jar: jar, Timeout: 15 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "api")
	return c, nil
}

// Jar returns the cookie jar holding the session.
func (c *Client) Jar() http.CookieJar {
	return c.http.Jar
}

// CheckAuth returns the identity of the current session.
func (c *Client) CheckAuth(ctx context.Context) (*model.Identity, error) {
	var id model.Identity
	if err := c.do(ctx, http.MethodGet, "/auth/check", nil, "", &id); err != nil {
		return nil, err
	}
	return validIdentity(&id)
}

func (c *Client) Signup(ctx context.Context, req model.SignupRequest) (*model.Identity, error) {
	var id model.Identity
	if err := c.postJSON(ctx, "/auth/signup", req, &id); err != nil {
		return nil, err
	}
	return validIdentity(&id)
}

func (c *Client) Login(ctx context.Context, req model.LoginRequest) (*model.Identity, error) {
	var id model.Identity
	if err := c.postJSON(ctx, "/auth/login", req, &id); err != nil {
		return nil, err
	}
	return validIdentity(&id)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, "", nil)
}

// UpdateProfile uploads a new avatar and returns its reference.
func (c *Client) UpdateProfile(ctx context.Context, avatar model.Attachment) (string, error) {
	body, contentType, err := multipartBody(nil, "avatar", &avatar)
	if err != nil {
		return "", err
	}

	var resp model.ProfileResponse
	if err := c.do(ctx, http.MethodPost, "/auth/updateProfile", body, contentType, &resp); err != nil {
		return "", err
	}
	if resp.ProfilePic == "" {
		return "", fmt.Errorf("%w: empty profilePic", ErrInvalidResponse)
	}
	return resp.ProfilePic, nil
}

// ListContacts returns every user the identity can talk to, in server order.
func (c *Client) ListContacts(ctx context.Context) ([]model.Contact, error) {
	var contacts []model.Contact
	if err := c.do(ctx, http.MethodGet, "/message/user", nil, "", &contacts); err != nil {
		return nil, err
	}
	if contacts == nil {
		contacts = []model.Contact{}
	}
	for i, ct := range contacts {
		if ct.ID == "" {
			return nil, fmt.Errorf("%w: contact %d has no id", ErrInvalidResponse, i)
		}
	}
	return contacts, nil
}

// History returns the conversation with contactID in ascending time order.
func (c *Client) History(ctx context.Context, contactID string) ([]model.Message, error) {
	var msgs []model.Message
	if err := c.do(ctx, http.MethodGet, "/message/"+url.PathEscape(contactID), nil, "", &msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("%w: message %d: %v", ErrInvalidResponse, i, err)
		}
	}
	return msgs, nil
}

// Send posts a message to contactID and returns the server's copy.
func (c *Client) Send(ctx context.Context, contactID string, out model.OutgoingMessage) (model.Message, error) {
	fields := map[string]string{"text": strings.TrimSpace(out.Text)}
	body, contentType, err := multipartBody(fields, "image", out.Image)
	if err != nil {
		return model.Message{}, err
	}

	var msg model.Message
	if err := c.do(ctx, http.MethodPost, "/message/send/"+url.PathEscape(contactID), body, contentType, &msg); err != nil {
		return model.Message{}, err
	}
	if err := msg.Validate(); err != nil {
		return model.Message{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return msg, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(data), "application/json", out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	u := c.base.String() + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode}
		var errResp model.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			apiErr.Message = errResp.Message
		}
		c.logger.Debug("request failed", "method", method, "path", path, "status", resp.StatusCode)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrInvalidResponse, path, err)
	}
	return nil
}

func validIdentity(id *model.Identity) (*model.Identity, error) {
	if id.ID == "" {
		return nil, fmt.Errorf("%w: identity has no id", ErrInvalidResponse)
	}
	return id, nil
}

func multipartBody(fields map[string]string, fileField string, att *model.Attachment) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", k, err)
		}
	}

	if att != nil && len(att.Data) > 0 {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, att.Filename))
		h.Set("Content-Type", att.ContentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("creating %s part: %w", fileField, err)
		}
		if _, err := part.Write(att.Data); err != nil {
			return nil, "", fmt.Errorf("writing %s part: %w", fileField, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
