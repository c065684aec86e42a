package library

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"librarydesk/internal/config"
	"librarydesk/internal/models"
)

const maxBodyBytes = 4 << 20

// Client talks to the library REST backend on behalf of one desk. Each client
// owns its cookie jar, so cookies never leak between desks.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	jar        http.CookieJar
	tokens     *TokenProvider
	csrfCookie string
	csrfHeader string
	bootstrap  string
	logger     *zap.Logger
}

// Option defines a functional option to configure Client.
type Option func(*Client)

// WithTimeout bounds every request; zero keeps requests unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithTransport swaps the round tripper, mostly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.httpClient.Transport = rt
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCSRF overrides the cookie the token is read from and the header it is sent in.
func WithCSRF(cookieName, headerName string) Option {
	return func(c *Client) {
		if cookieName != "" {
			c.csrfCookie = cookieName
		}
		if headerName != "" {
			c.csrfHeader = headerName
		}
	}
}

// WithBootstrapURL sets a page fetched by Prime so the backend can set its cookies.
func WithBootstrapURL(raw string) Option {
	return func(c *Client) {
		c.bootstrap = raw
	}
}

// NewClient creates a client rooted at baseURL (e.g. http://127.0.0.1:8000/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Jar: jar},
		jar:        jar,
		csrfCookie: config.DefaultCSRFCookieName,
		csrfHeader: config.DefaultCSRFHeaderName,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.tokens = NewTokenProvider(jar, u, c.csrfCookie)
	return c, nil
}

// NewClientFromConfig builds a client from the backend section and seeds its cookies.
func NewClientFromConfig(cfg config.BackendConfig, logger *zap.Logger, opts ...Option) (*Client, error) {
	base := []Option{
		WithCSRF(cfg.CSRFCookieName, cfg.CSRFHeaderName),
		WithBootstrapURL(cfg.BootstrapURL),
		WithTimeout(time.Duration(cfg.Timeout) * time.Second),
		WithLogger(logger),
	}
	c, err := NewClient(cfg.BaseURL, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	c.SeedCookies(cfg.Cookies)
	return c, nil
}

// SeedCookies stores name/value pairs for the backend host.
func (c *Client) SeedCookies(values map[string]string) {
	if len(values) == 0 {
		return
	}
	cookies := make([]*http.Cookie, 0, len(values))
	for name, value := range values {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	c.jar.SetCookies(c.baseURL, cookies)
}

// Prime fetches the bootstrap page, if configured, so the backend can set its
// session and CSRF cookies. The response body is discarded.
func (c *Client) Prime(ctx context.Context) error {
	if c.bootstrap == "" {
		return nil
	}
	target, err := c.baseURL.Parse(c.bootstrap)
	if err != nil {
		return fmt.Errorf("bootstrap url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return &TransportError{Op: "prime", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "prime", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{Op: "prime", Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return nil
}

// CSRFToken is the session token provider for this client's cookie storage.
func (c *Client) CSRFToken() (string, bool) {
	return c.tokens.Token()
}

// ListBooks fetches the whole catalog.
func (c *Client) ListBooks(ctx context.Context) ([]models.Book, error) {
	var books []models.Book
	if err := c.getJSON(ctx, "list books", "/books/", &books); err != nil {
		return nil, err
	}
	if books == nil {
		books = []models.Book{}
	}
	return books, nil
}

// ListBorrowRecords fetches the caller's borrow records.
func (c *Client) ListBorrowRecords(ctx context.Context) ([]models.BorrowRecord, error) {
	var records []models.BorrowRecord
	if err := c.getJSON(ctx, "list borrow records", "/borrow-records/", &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []models.BorrowRecord{}
	}
	return records, nil
}

type borrowRequest struct {
	BookID int64 `json:"book_id"`
}

// BorrowBook asks the backend to lend bookID to the caller.
func (c *Client) BorrowBook(ctx context.Context, bookID int64) error {
	resp, err := c.do(ctx, "borrow book", http.MethodPost, "/borrow-records/borrow_book/", borrowRequest{BookID: bookID})
	if err != nil {
		return err
	}
	return resp.check("borrow book")
}

// ReturnBook closes the borrow record recordID. The request has no body.
func (c *Client) ReturnBook(ctx context.Context, recordID int64) error {
	path := "/borrow-records/" + strconv.FormatInt(recordID, 10) + "/return_book/"
	resp, err := c.do(ctx, "return book", http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	return resp.check("return book")
}

type chatRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	Answer  *string `json:"answer"`
	Message *string `json:"message"`
}

// Ask sends a question to the chat endpoint and returns the answer text.
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	const op = "ask chatbot"
	resp, err := c.do(ctx, op, http.MethodPost, "/chat/", chatRequest{Question: question})
	if err != nil {
		return "", err
	}
	if err := resp.check(op); err != nil {
		return "", err
	}
	var body chatResponse
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return "", &DecodeError{Op: op, Status: resp.status, Err: err}
	}
	switch {
	case body.Answer != nil:
		return *body.Answer, nil
	case body.Message != nil:
		return *body.Message, nil
	default:
		return "", &DecodeError{Op: op, Status: resp.status, Err: errors.New("answer missing")}
	}
}

type response struct {
	status int
	body   []byte
}

func (c *Client) getJSON(ctx context.Context, op, path string, dst any) error {
	resp, err := c.do(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := resp.check(op); err != nil {
		return err
	}
	if err := json.Unmarshal(resp.body, dst); err != nil {
		return &DecodeError{Op: op, Status: resp.status, Err: err}
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any) (*response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, &TransportError{Op: op, Err: err}
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		if token, ok := c.tokens.Token(); ok {
			req.Header.Set(c.csrfHeader, token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("backend request failed", zap.String("op", op), zap.Error(err))
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	c.logger.Debug("backend request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &response{status: resp.StatusCode, body: data}, nil
}

type errorBody struct {
	Error   *string `json:"error"`
	Message *string `json:"message"`
	Detail  *string `json:"detail"`
}

// check maps a non-2xx response onto APIError, or DecodeError when the body
// does not follow the error contract.
func (r *response) check(op string) error {
	if r.status >= 200 && r.status < 300 {
		return nil
	}
	var body errorBody
	if err := json.Unmarshal(r.body, &body); err != nil {
		return &DecodeError{Op: op, Status: r.status, Err: err}
	}
	for _, text := range []*string{body.Error, body.Message, body.Detail} {
		if text != nil {
			return &APIError{Op: op, Status: r.status, Message: *text}
		}
	}
	return &DecodeError{Op: op, Status: r.status, Err: fmt.Errorf("error body without error text (status %d)", r.status)}
}
