package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/textproto"
	"time"

	"github.com/MarcoPoloResearchLab/readsync/internal/apperr"
	"github.com/MarcoPoloResearchLab/readsync/internal/auth"
	"github.com/MarcoPoloResearchLab/readsync/internal/metrics"
	"github.com/MarcoPoloResearchLab/readsync/internal/progress"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	usernameContextKey  = "readsync_username"
	requestIDContextKey = "readsync_request_id"
	headerRequestID     = "X-Request-ID"
	invalidRequestBody  = "INVALID_REQUEST"
	healthcheckResponse = "ok"
	authorizedResponse  = "OK"
)

var (
	errMissingAuthenticator   = errors.New("authenticator dependency required")
	errMissingUsersService    = errors.New("users service dependency required")
	errMissingProgressService = errors.New("progress service dependency required")
)

// CredentialChecker authenticates the credentials carried by a request.
type CredentialChecker interface {
	Authenticate(ctx context.Context, credentials auth.Credentials) (string, error)
}

// AccountCreator registers new accounts.
type AccountCreator interface {
	CreateUser(ctx context.Context, username, password string) (string, error)
}

// ProgressService reads and replaces progress records.
type ProgressService interface {
	Update(ctx context.Context, username string, draft progress.Record) (progress.Record, error)
	Get(ctx context.Context, username, document string) (progress.Record, error)
}

type Dependencies struct {
	Authenticator   CredentialChecker
	UsersService    AccountCreator
	ProgressService ProgressService
	Metrics         *metrics.Recorder
	Logger          *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Authenticator == nil {
		return nil, errMissingAuthenticator
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.ProgressService == nil {
		return nil, errMissingProgressService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware(logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	handler := &httpHandler{
		authenticator:   deps.Authenticator,
		usersService:    deps.UsersService,
		progressService: deps.ProgressService,
		logger:          logger,
	}

	router.GET("/healthcheck", handler.handleHealthcheck)
	router.POST("/users/create", handler.handleCreateUser)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/users/auth", handler.handleAuthUser)
	protected.POST("/syncs/progress", handler.handleUpdateProgress)
	protected.GET("/syncs/progress/:document", handler.handleGetProgress)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Accept", "Content-Type", auth.HeaderUser, auth.HeaderKey},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	authenticator   CredentialChecker
	usersService    AccountCreator
	progressService ProgressService
	logger          *zap.Logger
}

type createUserRequestPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createUserResponsePayload struct {
	Username string `json:"username"`
}

type authResponsePayload struct {
	Authorized string `json:"authorized"`
}

// progressRequestPayload accepts any client timestamp shape; the server assigns its own.
type progressRequestPayload struct {
	Document   string          `json:"document"`
	Progress   string          `json:"progress"`
	Percentage float64         `json:"percentage"`
	Device     string          `json:"device"`
	DeviceID   string          `json:"device_id"`
	Timestamp  json.RawMessage `json:"timestamp"`
}

func (h *httpHandler) handleHealthcheck(c *gin.Context) {
	c.String(http.StatusOK, healthcheckResponse)
}

func (h *httpHandler) handleCreateUser(c *gin.Context) {
	var request createUserRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.String(http.StatusBadRequest, invalidRequestBody)
		return
	}

	username, err := h.usersService.CreateUser(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createUserResponsePayload{Username: username})
}

func (h *httpHandler) handleAuthUser(c *gin.Context) {
	c.JSON(http.StatusOK, authResponsePayload{Authorized: authorizedResponse})
}

func (h *httpHandler) handleUpdateProgress(c *gin.Context) {
	username := c.GetString(usernameContextKey)
	if username == "" {
		h.writeError(c, apperr.Unauthorized())
		return
	}

	var request progressRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.String(http.StatusBadRequest, invalidRequestBody)
		return
	}

	record, err := h.progressService.Update(c.Request.Context(), username, progress.Record{
		Document:   request.Document,
		Progress:   request.Progress,
		Percentage: request.Percentage,
		Device:     request.Device,
		DeviceID:   request.DeviceID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) handleGetProgress(c *gin.Context) {
	username := c.GetString(usernameContextKey)
	if username == "" {
		h.writeError(c, apperr.Unauthorized())
		return
	}

	record, err := h.progressService.Get(c.Request.Context(), username, c.Param("document"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	credentials := auth.Credentials{
		Username: optionalHeader(c, auth.HeaderUser),
		Secret:   optionalHeader(c, auth.HeaderKey),
	}
	username, err := h.authenticator.Authenticate(c.Request.Context(), credentials)
	if err != nil {
		h.writeError(c, err)
		c.Abort()
		return
	}
	c.Set(usernameContextKey, username)
	c.Next()
}

// writeError renders err as its public category; server-side failures are logged with full detail.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	status, message := apperr.Response(err)
	if apperr.IsServerSide(err) {
		h.logger.Error("request failed",
			zap.String("request_id", c.GetString(requestIDContextKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Stringer("kind", apperr.KindOf(err)),
			zap.Error(err))
	}
	c.String(status, message)
}

func optionalHeader(c *gin.Context, name string) *string {
	values, ok := c.Request.Header[textproto.CanonicalMIMEHeaderKey(name)]
	if !ok || len(values) == 0 {
		return nil
	}
	value := values[0]
	return &value
}
