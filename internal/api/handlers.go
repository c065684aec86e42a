package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"librarydesk/internal/auth"
	"librarydesk/internal/desk"
	"librarydesk/internal/library"
	"librarydesk/internal/view"
	"librarydesk/internal/worker"
)

const (
	deskContextKey   = "desk"
	busyMessage      = "server is busy, please retry"
	defaultHeartbeat = 15 * time.Second
)

// Handler wires HTTP routes to the desk registry.
type Handler struct {
	desks     *desk.Registry
	auth      *auth.Service
	logger    *zap.Logger
	heartbeat time.Duration
}

// NewHandler constructs a Handler instance.
func NewHandler(desks *desk.Registry, authService *auth.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		desks:     desks,
		auth:      authService,
		logger:    logger,
		heartbeat: defaultHeartbeat,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.openDesk)
	router.StaticFS("/static", staticFS())

	api := router.Group("/api")
	deskRoutes := api.Group("")
	deskRoutes.Use(h.auth.Middleware(), h.auth.CSRFMiddleware(), h.requireDesk())
	deskRoutes.GET("/desk", h.getDesk)
	deskRoutes.GET("/desk/events", h.streamEvents)
	deskRoutes.POST("/desk/refresh", h.refreshDesk)
	deskRoutes.DELETE("/desk", h.closeDesk)
	deskRoutes.POST("/books/:id/borrow", h.borrowBook)
	deskRoutes.POST("/records/:id/return", h.returnBook)
	deskRoutes.POST("/chat", h.askQuestion)
}

// requireDesk resolves the desk bound to the session token.
func (h *Handler) requireDesk() gin.HandlerFunc {
	return func(c *gin.Context) {
		deskID, ok := auth.DeskIDFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "desk session required"})
			return
		}
		d, err := h.desks.Get(deskID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "desk session expired, reload the page"})
			return
		}
		c.Set(deskContextKey, d)
		c.Next()
	}
}

func currentDesk(c *gin.Context) *desk.Desk {
	return c.MustGet(deskContextKey).(*desk.Desk)
}

// openDesk creates a fresh desk for the page load and serves the page.
func (h *Handler) openDesk(c *gin.Context) {
	d, err := h.desks.Create()
	if err != nil {
		if errors.Is(err, worker.ErrDispatcherBusy) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": busyMessage})
		} else {
			h.logger.Error("open desk", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not open desk"})
		}
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), d.ID())
	if err != nil {
		h.desks.Remove(d.ID())
		h.logger.Error("issue desk token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not open desk"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		h.desks.Remove(d.ID())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not open desk"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)

	snap := d.Snapshot()
	page := view.NewPage(d.Locale(), d.Labels(), snap.UserInfo, snap.Catalog, snap.Records, snap.Transcript)
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	if err := view.RenderPage(c.Writer, page); err != nil {
		h.logger.Error("render page", zap.Error(err))
	}
}

func (h *Handler) getDesk(c *gin.Context) {
	d := currentDesk(c)
	snap := d.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"desk_id":    d.ID(),
		"locale":     d.Locale(),
		"user_info":  snap.UserInfo,
		"catalog":    snap.Catalog,
		"records":    snap.Records,
		"transcript": snap.Transcript,
	})
}

func (h *Handler) refreshDesk(c *gin.Context) {
	if err := currentDesk(c).ScheduleRefresh(); err != nil {
		h.respondScheduleError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) closeDesk(c *gin.Context) {
	d := currentDesk(c)
	h.desks.Remove(d.ID())
	if token, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), token); err != nil {
			h.logger.Warn("revoke desk token", zap.Error(err))
		}
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) borrowBook(c *gin.Context) {
	bookID, ok := pathID(c, "invalid book id")
	if !ok {
		return
	}
	notice, err := currentDesk(c).Borrow(c.Request.Context(), bookID)
	c.JSON(noticeStatus(err), notice)
}

func (h *Handler) returnBook(c *gin.Context) {
	recordID, ok := pathID(c, "invalid record id")
	if !ok {
		return
	}
	notice, err := currentDesk(c).Return(c.Request.Context(), recordID)
	c.JSON(noticeStatus(err), notice)
}

type questionRequest struct {
	Question string `json:"question"`
}

func (h *Handler) askQuestion(c *gin.Context) {
	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	turnID, err := currentDesk(c).SubmitQuestion(req.Question)
	switch {
	case errors.Is(err, desk.ErrEmptyQuestion):
		c.Status(http.StatusNoContent)
	case err != nil:
		h.respondScheduleError(c, err)
	default:
		c.JSON(http.StatusAccepted, gin.H{"turn_id": turnID})
	}
}

// streamEvents pushes every region, transcript and notice change to the page.
func (h *Handler) streamEvents(c *gin.Context) {
	d := currentDesk(c)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}
	events, unsubscribe := d.Subscribe(64)
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	snapshot, err := snapshotPayload(d)
	if err != nil {
		h.logger.Error("render snapshot", zap.Error(err))
		return
	}
	if err := sendEvent("snapshot", snapshot); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
			if !h.keepAlive(ctx, c, d) {
				_ = sendEvent("closed", gin.H{})
				return
			}
		case ev, open := <-events:
			if !open {
				_ = sendEvent("closed", gin.H{})
				return
			}
			event, payload, err := eventPayload(d, ev)
			if err != nil {
				h.logger.Error("render event", zap.String("kind", string(ev.Kind)), zap.Error(err))
				continue
			}
			if err := sendEvent(event, payload); err != nil {
				return
			}
		}
	}
}

type regionPayload struct {
	Name    string `json:"name"`
	Seq     uint64 `json:"seq"`
	Loading bool   `json:"loading"`
	HTML    string `json:"html"`
}

type transcriptPayload struct {
	Version  uint64 `json:"version"`
	ScrollTo int    `json:"scroll_to"`
	HTML     string `json:"html"`
}

func regionHTML(d *desk.Desk, name string) (regionPayload, error) {
	snap := d.Snapshot()
	labels := d.Labels()
	var (
		html string
		err  error
		out  regionPayload
	)
	switch name {
	case view.RegionUserInfo:
		html, err = view.UserInfoHTML(labels, snap.UserInfo)
		out = regionPayload{Name: name, Seq: snap.UserInfo.Seq, Loading: snap.UserInfo.Loading}
	case view.RegionCatalog:
		html, err = view.CatalogHTML(labels, snap.Catalog)
		out = regionPayload{Name: name, Seq: snap.Catalog.Seq, Loading: snap.Catalog.Loading}
	case view.RegionRecords:
		html, err = view.RecordsHTML(labels, snap.Records)
		out = regionPayload{Name: name, Seq: snap.Records.Seq, Loading: snap.Records.Loading}
	default:
		return regionPayload{}, fmt.Errorf("unknown region %q", name)
	}
	out.HTML = html
	return out, err
}

func transcriptHTML(d *desk.Desk) (transcriptPayload, error) {
	tv := d.Snapshot().Transcript
	html, err := view.TranscriptHTML(tv)
	return transcriptPayload{Version: tv.Version, ScrollTo: tv.ScrollTo, HTML: html}, err
}

func snapshotPayload(d *desk.Desk) (gin.H, error) {
	regions := make([]regionPayload, 0, 3)
	for _, name := range []string{view.RegionUserInfo, view.RegionCatalog, view.RegionRecords} {
		r, err := regionHTML(d, name)
		if err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	transcript, err := transcriptHTML(d)
	if err != nil {
		return nil, err
	}
	return gin.H{"regions": regions, "transcript": transcript}, nil
}

func eventPayload(d *desk.Desk, ev desk.Event) (string, interface{}, error) {
	switch ev.Kind {
	case desk.EventRegion:
		r, err := regionHTML(d, ev.Region)
		return "region", r, err
	case desk.EventTranscript:
		t, err := transcriptHTML(d)
		return "transcript", t, err
	case desk.EventNotice:
		return "notice", ev.Notice, nil
	default:
		return "", nil, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

func pathID(c *gin.Context, message string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": message})
		return 0, false
	}
	return id, true
}

// noticeStatus maps the outcome of an action onto the response status: the
// backend's own status for application errors, 502 when it could not be
// reached or answered nonsense.
func noticeStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var apiErr *library.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= http.StatusBadRequest {
		return apiErr.Status
	}
	return http.StatusBadGateway
}

// keepAlive slides both the desk idle timer and the session token, so an
// open tab that only listens to events does not lose its session.
func (h *Handler) keepAlive(ctx context.Context, c *gin.Context, d *desk.Desk) bool {
	d.Touch()
	token, ok := auth.AuthTokenFromContext(c)
	if !ok {
		return true
	}
	if _, err := h.auth.ValidateToken(ctx, token); err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			return false
		}
		h.logger.Warn("extend desk session", zap.String("desk_id", d.ID()), zap.Error(err))
	}
	return true
}

func (h *Handler) respondScheduleError(c *gin.Context, err error) {
	if errors.Is(err, worker.ErrDispatcherBusy) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": busyMessage})
		return
	}
	h.logger.Error("schedule desk job", zap.Error(err))
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	// no Max-Age: the token store owns expiry and heartbeats slide it
	secure := c.Request.TLS != nil
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:   name,
			Value:  "",
			MaxAge: -1,
			Path:   "/",
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
