package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"travelbot/internal/auth"
	"travelbot/internal/credential"
	"travelbot/internal/models"
	"travelbot/internal/service/ai"
	"travelbot/internal/service/assistant"
	"travelbot/internal/worker"
)

type WorkerManager interface {
	Stream(ctx context.Context, req assistant.TurnRequest) (*assistant.TurnResult, error)
	Snapshot(ctx context.Context, sessionID int64) (*models.Session, []*models.Message, error)
	Reset(ctx context.Context, sessionID int64) ([]*models.Message, error)
	Purge(ctx context.Context, sessionID int64)
	Busy(sessionID int64) bool
}

// Handler wires HTTP routes to the conversation service and the turn workers.
type Handler struct {
	assistant      *assistant.Service
	auth           *auth.Service
	workers        WorkerManager
	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader
}

// NewHandler constructs a Handler. An empty allowedOrigins accepts any
// websocket origin.
func NewHandler(service *assistant.Service, authService *auth.Service, workers WorkerManager, allowedOrigins []string) *Handler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[strings.TrimSpace(o)] = true
	}
	h := &Handler{
		assistant:      service,
		auth:           authService,
		workers:        workers,
		allowedOrigins: origins,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/healthz", h.healthz)
	api.GET("/models", h.listModels)
	api.POST("/sessions", h.createSession)

	sessionRoutes := api.Group("/session")
	sessionRoutes.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	sessionRoutes.GET("", h.getSession)
	sessionRoutes.POST("/credential", h.setCredential)
	sessionRoutes.GET("/credential", h.getCredential)
	sessionRoutes.DELETE("/credential", h.clearCredential)
	sessionRoutes.PUT("/model", h.selectModel)
	sessionRoutes.POST("/messages", h.submitMessage)
	sessionRoutes.POST("/reset", h.resetSession)
	sessionRoutes.POST("/rating", h.rate)
	sessionRoutes.GET("/events", h.sessionEvents)
	sessionRoutes.POST("/end", h.endSession)
}

func (h *Handler) authorizedSessionID(c *gin.Context) (int64, bool) {
	sessionID, ok := auth.SessionIDFromContext(c)
	if !ok || sessionID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return sessionID, true
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":  h.assistant.Catalog().Names(),
		"default": models.DefaultModelName,
	})
}

func (h *Handler) createSession(c *gin.Context) {
	var req struct {
		Model string `json:"model"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	ctx := c.Request.Context()
	session, messages, err := h.assistant.InitializeSession(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	if name := strings.TrimSpace(req.Model); name != "" {
		mc, err := h.assistant.SelectModel(ctx, session.ID, name)
		if err != nil {
			_ = h.assistant.DeleteSession(ctx, session.ID)
			writeError(c, err)
			return
		}
		session.ModelName = mc.Name
	}
	status, err := h.assistant.CredentialStatus(ctx, session.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	sessionToken, err := h.auth.IssueToken(ctx, session.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.auth.SetSessionCookies(c, sessionToken, csrfToken)

	body := gin.H{
		"session_token": sessionToken,
		"session":       session,
		"messages":      messages,
		"credential":    status,
	}
	if !status.Set {
		body["warning"] = credential.ErrMissing.Error()
	}
	c.JSON(http.StatusCreated, body)
}

func (h *Handler) getSession(c *gin.Context) {
	sessionID, ok := h.authorizedSessionID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	session, messages, err := h.workers.Snapshot(ctx, sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	status, err := h.assistant.CredentialStatus(ctx, sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":    session,
		"messages":   messages,
		"credential": status,
		"busy":       h.workers.Busy(sessionID),
	})
}

func (h *Handler) setCredential(c *gin.Context) {
	sessionID, ok := h.authorizedSessionID(c)
	if !ok {
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	status, err := h.assistant.SetCredential(c.Request.Context(), sessionID, strings.TrimSpace(req.Token))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credential": status})
}

func (h *Handler) getCredential(c *gin.Context) {
	sessionID, ok := h.authorizedSessionID(c)
	if !ok {
		return
	}
	status, err := h.assistant.CredentialStatus(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credential": status})
}

func (h *Handler) clearCredential(c *gin.Context) {
	sessionID, ok := h.authorizedSessionID(c)
	if !ok {
		return
	}
	status, err := h.assistant.ClearCredential(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credential": status})
}

func (h *Handler) selectModel(c *gin.Context) {
	sessionID, ok := h.authorizedSessionID(c)
	if !ok {
		return
	}
	var req struct {
		Model string `json:"model"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	mc, err := h.assistant.SelectModel(c.Request.Context(), sessionID, req.Model)
	if err != nil {
		writeError(c, err)
		return
	}
	h.workers.Purge(c.Request.Context(), sessionID)
	c.JSON(http.StatusOK, gin.H{"model": mc})
}

// submitMessage runs one turn. Failures detected before the user message is
// stored get a plain JSON status; after that the outcome is reported on the
// event stream.
func (h *Handler) submitMessage(c *gin.Context) {
	sessionID, ok := h.authorizedSessionID(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(c, assistant.ErrEmptyInput)
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	stream := newEventStream(c.Writer, flusher)

	result, err := h.workers.Stream(c.Request.Context(), assistant.TurnRequest{
		SessionID: sessionID,
		Content:   req.Content,
		OnAccepted: func(msg *models.Message) {
			_ = stream.send("ack", gin.H{"message": msg})
		},
		OnFragment: func(fragment string) error {
			return stream.send("stream", gin.H{"content": fragment})
		},
	})
	if err != nil {
		if !stream.started() {
			writeError(c, err)
			return
		}
		payload := gin.H{"message": err.Error()}
		var invErr *ai.InvocationError
		if errors.As(err, &invErr) {
			payload["kind"] = invErr.Kind
			payload["message"] = invErr.Reason()
		}
		_ = stream.send("error", payload)
		return
	}

	payload := gin.H{
		"user_message": result.UserMessage,
		"ai_message":   result.AssistantMessage,
		"model":        result.Model,
	}
	if session, _, err := h.workers.Snapshot(c.Request.Context(), sessionID); err == nil && session.Title != "" {
		payload["title"] = session.Title
	}
	event := "done"
	if result.Refused {
		event = "refusal"
	}
	_ = stream.send(event, payload)
}

func (h *Handler) resetSession(c *gin.Context) {
	sessionID, ok := h.authorizedSessionID(c)
	if !ok {
		return
	}
	messages, err := h.workers.Reset(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) rate(c *gin.Context) {
	if _, ok := h.authorizedSessionID(c); !ok {
		return
	}
	var req struct {
		Stars int `json:"stars"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	msg, err := assistant.RatingAck(req.Stars)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// endSession revokes the caller's token. With {"delete": true} the session
// and everything bound to it is removed as well.
func (h *Handler) endSession(c *gin.Context) {
	sessionID, ok := h.authorizedSessionID(c)
	if !ok {
		return
	}
	var req struct {
		Delete bool `json:"delete"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	ctx := c.Request.Context()
	if req.Delete {
		if h.workers.Busy(sessionID) {
			writeError(c, worker.ErrTurnInFlight)
			return
		}
		if err := h.auth.RevokeSessionTokens(ctx, sessionID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := h.assistant.DeleteSession(ctx, sessionID); err != nil {
			writeError(c, err)
			return
		}
		h.workers.Purge(ctx, sessionID)
	} else if token, ok := auth.TokenFromContext(c); ok {
		if err := h.auth.RevokeToken(ctx, token); err != nil {
			slog.Warn("revoke session token", "session_id", sessionID, "error", err)
		}
	}
	h.auth.ClearSessionCookies(c)
	c.Status(http.StatusNoContent)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var invErr *ai.InvocationError
	switch {
	case errors.Is(err, assistant.ErrEmptyInput),
		errors.Is(err, assistant.ErrUnknownModel),
		errors.Is(err, assistant.ErrInvalidRating),
		errors.Is(err, credential.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, credential.ErrMissing):
		return http.StatusPreconditionFailed
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound
	case errors.Is(err, worker.ErrTurnInFlight):
		return http.StatusConflict
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, worker.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &invErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case errors.Is(err, assistant.ErrEmptyInput):
		msg = assistant.EmptyInputWarning
	case errors.Is(err, sql.ErrNoRows):
		msg = "session not found"
	case status == http.StatusInternalServerError:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": msg})
}
