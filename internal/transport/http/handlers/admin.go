package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/transport/http/middleware"
	"github.com/wre314954-sudo/wirenew/internal/transport/relay"
	"github.com/wre314954-sudo/wirenew/internal/usecase"
)

// RelayPinger pings the store API with an explicitly supplied credential.
type RelayPinger interface {
	Ping(ctx context.Context, credential domain.BearerCredential) (relay.PingResult, error)
}

// AdminRouteOptions carries the middleware that guards admin routes.
type AdminRouteOptions struct {
	// Device resolves the calling device for the session routes.
	Device gin.HandlerFunc
	// Bearer admits relay calls carrying the privileged bearer credential.
	Bearer gin.HandlerFunc
	Login  []gin.HandlerFunc
}

// AdminLoginResponse hands the relay credential to the admin console once, at login.
type AdminLoginResponse struct {
	usecase.AdminSnapshot
	BearerToken string `json:"bearer_token,omitempty"`
}

// AdminHandler exposes the admin auth flow and the store API relay.
type AdminHandler struct {
	relay RelayPinger
}

// NewAdminHandler constructs AdminHandler. A nil relay disables the relay routes.
func NewAdminHandler(relay RelayPinger) *AdminHandler {
	return &AdminHandler{relay: relay}
}

// RegisterRoutes binds admin routes.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup, opts AdminRouteOptions) {
	session := r.Group("")
	if opts.Device != nil {
		session.Use(opts.Device)
	}
	session.POST("/login", chain(opts.Login, h.login)...)
	session.POST("/logout", h.logout)
	session.GET("/session", h.session)

	if h.relay != nil && opts.Bearer != nil {
		r.POST("/relay/ping", opts.Bearer, h.relayPing)
	}
}

// login godoc
// @Summary Admin console login
// @Description Signs in the privileged account and returns the store API bearer credential.
// @Tags Admin
// @Accept json
// @Produce json
// @Param X-Device-ID header string true "Device identifier"
// @Param request body AdminLoginRequest true "Login request"
// @Success 200 {object} AdminLoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/admin/login [post]
func (h *AdminHandler) login(c *gin.Context) {
	device, ok := currentDevice(c)
	if !ok {
		return
	}

	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	snapshot, err := device.Admin.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondAuthError(c, err)
		return
	}

	resp := AdminLoginResponse{AdminSnapshot: snapshot}
	if credential, ok := device.Admin.BearerCredential(); ok {
		resp.BearerToken = credential.Token
	}
	c.JSON(http.StatusOK, resp)
}

// logout godoc
// @Summary Admin console logout
// @Description Signs the admin out and drops the bearer credential.
// @Tags Admin
// @Produce json
// @Param X-Device-ID header string true "Device identifier"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/admin/logout [post]
func (h *AdminHandler) logout(c *gin.Context) {
	device, ok := currentDevice(c)
	if !ok {
		return
	}
	device.Admin.Logout(c.Request.Context())
	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

// session godoc
// @Summary Admin session
// @Description Returns the admin auth state of the device.
// @Tags Admin
// @Produce json
// @Param X-Device-ID header string true "Device identifier"
// @Success 200 {object} usecase.AdminSnapshot
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/admin/session [get]
func (h *AdminHandler) session(c *gin.Context) {
	device, ok := currentDevice(c)
	if !ok {
		return
	}
	if !device.Bootstrap.Ready() {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session is still restoring"))
		return
	}
	c.JSON(http.StatusOK, device.Admin.Snapshot())
}

// relayPing godoc
// @Summary Ping the store API
// @Description Calls the store API with the admin bearer credential and reports the upstream status.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} RelayPingResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /api/v1/admin/relay/ping [post]
func (h *AdminHandler) relayPing(c *gin.Context) {
	credential, ok := middleware.GetBearerCredential(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "missing bearer credential"))
		return
	}

	result, err := h.relay.Ping(c.Request.Context(), credential)
	if err != nil {
		_ = c.Error(err)
		switch {
		case errors.Is(err, relay.ErrNoCredential):
			c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "bearer credential expired"))
		default:
			c.JSON(http.StatusBadGateway, NewErrorResponse(c, "store API unavailable"))
		}
		return
	}

	c.JSON(http.StatusOK, RelayPingResponse{
		Status:    result.Status,
		LatencyMS: result.Latency.Round(time.Millisecond).Milliseconds(),
	})
}
