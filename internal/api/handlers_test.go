package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"librarydesk/internal/auth"
	"librarydesk/internal/desk"
	"librarydesk/internal/library"
	"librarydesk/internal/worker"
)

// fakeLibrary imitates the REST backend.
type fakeLibrary struct {
	mu          sync.Mutex
	bookCalls   atomic.Int32
	recordCalls atomic.Int32
	borrowBody  []string
	csrfHeaders []string
	returned    []string
}

func (f *fakeLibrary) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/books/":
		f.bookCalls.Add(1)
		_, _ = io.WriteString(w, `[{"id":1,"title":"Dune","author":"Herbert","is_available":true},
			{"id":2,"title":"Emma","author":"Austen","is_available":false}]`)
	case r.Method == http.MethodGet && r.URL.Path == "/api/borrow-records/":
		f.recordCalls.Add(1)
		_, _ = io.WriteString(w, `[{"id":5,"book_title":"Emma","user_name":"alice","borrow_date":"2025-01-01T09:00:00Z",
			"due_date":"2025-01-15T09:00:00Z","return_date":null}]`)
	case r.URL.Path == "/api/borrow-records/borrow_book/":
		f.mu.Lock()
		f.borrowBody = append(f.borrowBody, string(body))
		f.csrfHeaders = append(f.csrfHeaders, r.Header.Get("X-CSRFToken"))
		f.mu.Unlock()
		if strings.Contains(string(body), `"book_id":2`) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"This book is already borrowed."}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"message":"success"}`)
	case strings.HasSuffix(r.URL.Path, "/return_book/"):
		f.mu.Lock()
		f.returned = append(f.returned, r.URL.Path)
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"message":"success"}`)
	case r.URL.Path == "/api/chat/":
		var req struct {
			Question string `json:"question"`
		}
		_ = json.Unmarshal(body, &req)
		_ = json.NewEncoder(w).Encode(map[string]string{"answer": "You asked: " + req.Question})
	default:
		http.NotFound(w, r)
	}
}

// toggleScheduler lets a test saturate the dispatcher on demand.
type toggleScheduler struct {
	*worker.Dispatcher
	busy atomic.Bool
}

func (s *toggleScheduler) Submit(job worker.Job) error {
	if s.busy.Load() {
		return worker.ErrDispatcherBusy
	}
	return s.Dispatcher.Submit(job)
}

type testServer struct {
	router    *gin.Engine
	library   *fakeLibrary
	backend   *httptest.Server
	scheduler *toggleScheduler
	registry  *desk.Registry
	handler   *Handler
	auth      *auth.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerTTL(t, time.Hour)
}

func newTestServerTTL(t *testing.T, sessionTTL time.Duration) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	lib := &fakeLibrary{}
	backend := httptest.NewServer(lib)
	t.Cleanup(backend.Close)

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{MinWorkers: 2, MaxWorkers: 4, QueueSize: 32}, zap.NewNop())
	t.Cleanup(dispatcher.Stop)
	scheduler := &toggleScheduler{Dispatcher: dispatcher}

	factory := func() (desk.Backend, error) {
		client, err := library.NewClient(backend.URL + "/api")
		if err != nil {
			return nil, err
		}
		client.SeedCookies(map[string]string{"csrftoken": "backend%20csrf"})
		return client, nil
	}
	registry := desk.NewRegistry(factory, scheduler, desk.Options{Logger: zap.NewNop()}, sessionTTL)
	authService := auth.NewService(auth.NewMemoryStore(), sessionTTL)
	handler := NewHandler(registry, authService, zap.NewNop())

	return &testServer{
		router:    NewRouter(handler, zap.NewNop()),
		library:   lib,
		backend:   backend,
		scheduler: scheduler,
		registry:  registry,
		handler:   handler,
		auth:      authService,
	}
}

// session carries the cookies a browser would hold after GET /.
type session struct {
	cookies []*http.Cookie
	csrf    string
}

func (s *testServer) open(t *testing.T) (session, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sess session
	for _, ck := range rec.Result().Cookies() {
		sess.cookies = append(sess.cookies, ck)
		if ck.Name == "csrf_token" {
			sess.csrf = ck.Value
		}
	}
	require.NotEmpty(t, sess.csrf)
	return sess, rec
}

func (s *testServer) do(t *testing.T, sess *session, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if sess != nil {
		for _, ck := range sess.cookies {
			req.AddCookie(ck)
		}
		req.Header.Set("X-CSRF-Token", sess.csrf)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type deskBody struct {
	UserInfo struct {
		State struct {
			Name    string `json:"name"`
			Overdue string `json:"overdue"`
		} `json:"state"`
	} `json:"user_info"`
	Catalog struct {
		Loading bool `json:"loading"`
		State   struct {
			Entries []struct {
				BookID    int64 `json:"book_id"`
				CanBorrow bool  `json:"can_borrow"`
			} `json:"entries"`
		} `json:"state"`
	} `json:"catalog"`
	Records struct {
		State struct {
			Entries []struct {
				RecordID   int64 `json:"record_id"`
				DueOverdue bool  `json:"due_overdue"`
				CanReturn  bool  `json:"can_return"`
			} `json:"entries"`
		} `json:"state"`
	} `json:"records"`
	Transcript struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
			Pending bool   `json:"pending"`
		} `json:"messages"`
	} `json:"transcript"`
}

func (s *testServer) snapshot(t *testing.T, sess *session) deskBody {
	t.Helper()
	rec := s.do(t, sess, http.MethodGet, "/api/desk", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body deskBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// peek is snapshot without assertions, for polling conditions.
func (s *testServer) peek(sess *session) deskBody {
	req := httptest.NewRequest(http.MethodGet, "/api/desk", nil)
	for _, ck := range sess.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	var body deskBody
	if rec.Code == http.StatusOK {
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
	}
	return body
}

func TestOpenDeskRendersPageAndLoads(t *testing.T) {
	srv := newTestServer(t)
	sess, rec := srv.open(t)

	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	page := rec.Body.String()
	assert.Contains(t, page, `<ul id="book-list">`)
	assert.Contains(t, page, "6. Can I recommend new books?")
	for _, ck := range sess.cookies {
		if ck.Name == "desk_token" {
			assert.True(t, ck.HttpOnly)
		}
	}

	require.Eventually(t, func() bool {
		body := srv.peek(&sess)
		return len(body.Catalog.State.Entries) == 2 && len(body.Records.State.Entries) == 1 && body.UserInfo.State.Name == "alice"
	}, 2*time.Second, 10*time.Millisecond)

	body := srv.snapshot(t, &sess)
	assert.True(t, body.Catalog.State.Entries[0].CanBorrow)
	assert.False(t, body.Catalog.State.Entries[1].CanBorrow)
	assert.True(t, body.Records.State.Entries[0].DueOverdue)
	assert.True(t, body.Records.State.Entries[0].CanReturn)
	assert.Equal(t, "Yes", body.UserInfo.State.Overdue)
	require.Len(t, body.Transcript.Messages, 1)
	assert.Equal(t, "bot", body.Transcript.Messages[0].Role)
}

func TestDeskRoutesRequireSessionAndCSRF(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, nil, http.MethodGet, "/api/desk", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sess, _ := srv.open(t)
	noCSRF := session{cookies: sess.cookies}
	rec = srv.do(t, &noCSRF, http.MethodPost, "/api/books/1/borrow", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"invalid csrf token"}`, rec.Body.String())
}

func TestBorrowAndReturn(t *testing.T) {
	srv := newTestServer(t)
	sess, _ := srv.open(t)
	require.Eventually(t, func() bool { return srv.library.bookCalls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := srv.do(t, &sess, http.MethodPost, "/api/books/1/borrow", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"level":"success","message":"Book borrowed successfully!"}`, rec.Body.String())
	require.Eventually(t, func() bool {
		return srv.library.bookCalls.Load() == 2 && srv.library.recordCalls.Load() == 4
	}, 2*time.Second, 10*time.Millisecond)

	srv.library.mu.Lock()
	assert.JSONEq(t, `{"book_id":1}`, srv.library.borrowBody[0])
	assert.Equal(t, "backend csrf", srv.library.csrfHeaders[0])
	srv.library.mu.Unlock()

	rec = srv.do(t, &sess, http.MethodPost, "/api/books/2/borrow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"level":"error","message":"Borrow failed: This book is already borrowed."}`, rec.Body.String())

	rec = srv.do(t, &sess, http.MethodPost, "/api/records/5/return", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"level":"success","message":"Book returned successfully!"}`, rec.Body.String())
	srv.library.mu.Lock()
	assert.Equal(t, []string{"/api/borrow-records/5/return_book/"}, srv.library.returned)
	srv.library.mu.Unlock()

	rec = srv.do(t, &sess, http.MethodPost, "/api/records/abc/return", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = srv.do(t, &sess, http.MethodPost, "/api/books/0/borrow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBorrowWithBackendDown(t *testing.T) {
	srv := newTestServer(t)
	sess, _ := srv.open(t)
	srv.backend.Close()

	rec := srv.do(t, &sess, http.MethodPost, "/api/books/1/borrow", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"level":"error","message":"An error occurred while borrowing the book."}`, rec.Body.String())
}

func TestChat(t *testing.T) {
	srv := newTestServer(t)
	sess, _ := srv.open(t)

	rec := srv.do(t, &sess, http.MethodPost, "/api/chat", map[string]string{"question": "   "})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, &sess, http.MethodPost, "/api/chat", map[string]string{"question": "How do I borrow a book?"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted struct {
		TurnID string `json:"turn_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.NotEmpty(t, accepted.TurnID)

	require.Eventually(t, func() bool {
		msgs := srv.peek(&sess).Transcript.Messages
		return len(msgs) == 3 && !msgs[2].Pending
	}, 2*time.Second, 10*time.Millisecond)
	msgs := srv.snapshot(t, &sess).Transcript.Messages
	assert.Equal(t, "How do I borrow a book?", msgs[1].Content)
	assert.Equal(t, "You asked: How do I borrow a book?", msgs[2].Content)

	srv.scheduler.busy.Store(true)
	rec = srv.do(t, &sess, http.MethodPost, "/api/chat", map[string]string{"question": "again?"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"server is busy, please retry"}`, rec.Body.String())
	msgs = srv.snapshot(t, &sess).Transcript.Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, "Failed to reach the server.", msgs[4].Content)

	rec = srv.do(t, &sess, http.MethodPost, "/api/chat", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpenDeskWhenBusy(t *testing.T) {
	srv := newTestServer(t)
	srv.scheduler.busy.Store(true)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Zero(t, srv.registry.Len())
}

func TestRefreshAndClose(t *testing.T) {
	srv := newTestServer(t)
	sess, _ := srv.open(t)

	rec := srv.do(t, &sess, http.MethodPost, "/api/desk/refresh", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return srv.library.bookCalls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)

	rec = srv.do(t, &sess, http.MethodDelete, "/api/desk", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, srv.registry.Len())

	rec = srv.do(t, &sess, http.MethodGet, "/api/desk", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEventStreamStartsWithSnapshot(t *testing.T) {
	srv := newTestServer(t)
	sess, _ := srv.open(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/desk/events", nil).WithContext(ctx)
	for _, ck := range sess.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	events := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "snapshot", events[0].Name)

	var snapshot struct {
		Regions []struct {
			Name string `json:"name"`
			HTML string `json:"html"`
		} `json:"regions"`
		Transcript struct {
			HTML     string `json:"html"`
			ScrollTo int    `json:"scroll_to"`
		} `json:"transcript"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[0].Data), &snapshot))
	require.Len(t, snapshot.Regions, 3)
	assert.Equal(t, "user-info", snapshot.Regions[0].Name)
	assert.Equal(t, "book-list", snapshot.Regions[1].Name)
	assert.Equal(t, "borrow-records", snapshot.Regions[2].Name)
	assert.Contains(t, snapshot.Transcript.HTML, "bot-message")
	assert.Zero(t, snapshot.Transcript.ScrollTo)
}

func TestEventStreamKeepsSessionAlive(t *testing.T) {
	srv := newTestServerTTL(t, 200*time.Millisecond)
	srv.handler.heartbeat = 20 * time.Millisecond
	sess, _ := srv.open(t)
	var token string
	for _, ck := range sess.cookies {
		if ck.Name == "desk_token" {
			token = ck.Value
			assert.Zero(t, ck.MaxAge)
			assert.True(t, ck.HttpOnly)
		}
	}
	require.NotEmpty(t, token)

	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/desk/events", nil).WithContext(ctx)
	for _, ck := range sess.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	// the stream outlived the token TTL several times over
	assert.Contains(t, rec.Body.String(), ": ping")
	for _, ev := range parseSSE(t, rec.Body.String()) {
		assert.NotEqual(t, "closed", ev.Name)
	}
	deskID, err := srv.auth.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	_, err = srv.registry.Get(deskID)
	assert.NoError(t, err)
}

func TestEventStreamClosesOnRevokedSession(t *testing.T) {
	srv := newTestServer(t)
	srv.handler.heartbeat = 10 * time.Millisecond
	sess, _ := srv.open(t)
	var token string
	for _, ck := range sess.cookies {
		if ck.Name == "desk_token" {
			token = ck.Value
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/desk/events", nil).WithContext(ctx)
	for _, ck := range sess.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		srv.router.ServeHTTP(rec, req)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, srv.auth.RevokeToken(context.Background(), token))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not end after the session was revoked")
	}
	events := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "closed", events[len(events)-1].Name)
}

func TestTokenForDeskOnAnotherInstance(t *testing.T) {
	srv := newTestServer(t)
	// a shared token store can hold tokens whose desk lives in another process
	token, err := srv.auth.IssueToken(context.Background(), "desk-elsewhere")
	require.NoError(t, err)
	sess := &session{
		cookies: []*http.Cookie{
			{Name: "desk_token", Value: token},
			{Name: "csrf_token", Value: "csrf"},
		},
		csrf: "csrf",
	}
	rec := srv.do(t, sess, http.MethodGet, "/api/desk", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"desk session expired, reload the page"}`, rec.Body.String())
}

func TestPageCarriesFailureTexts(t *testing.T) {
	srv := newTestServer(t)
	_, rec := srv.open(t)
	page := rec.Body.String()
	assert.Contains(t, page, `data-borrow-error="An error occurred while borrowing the book."`)
	assert.Contains(t, page, `data-return-error="An error occurred while returning the book."`)
	assert.Contains(t, page, `data-chat-error="Failed to reach the server."`)

	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	script := rec.Body.String()
	// desk errors answer {"error": ...}, notices answer {"message": ...}
	assert.Contains(t, script, "notice.message || notice.error")
	for _, attr := range []string{"texts.borrowError", "texts.returnError", "texts.chatError"} {
		assert.Contains(t, script, attr)
	}

	// an expired session answers with an error body the script can show
	rec = srv.do(t, &session{}, http.MethodPost, "/api/books/1/borrow", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"desk session required"}`, rec.Body.String())
}

func TestStaticAssets(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/static/app.js", "/static/style.css"} {
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Body.String())
	}
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	var events []sseEvent
	for _, chunk := range strings.Split(payload, "\n\n") {
		var evt sseEvent
		for _, line := range strings.Split(strings.TrimSpace(chunk), "\n") {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		if evt.Name != "" {
			events = append(events, evt)
		}
	}
	return events
}
