package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/transport/http/middleware"
	"github.com/wre314954-sudo/wirenew/internal/usecase"
)

// CustomerRouteLimits holds optional middleware placed ahead of specific customer endpoints.
type CustomerRouteLimits struct {
	Signup        []gin.HandlerFunc
	Login         []gin.HandlerFunc
	Verify        []gin.HandlerFunc
	PasswordReset []gin.HandlerFunc
}

// CustomerHandler exposes the customer auth flow of the calling device.
type CustomerHandler struct{}

// NewCustomerHandler constructs CustomerHandler.
func NewCustomerHandler() *CustomerHandler {
	return &CustomerHandler{}
}

// RegisterRoutes binds customer routes. The group must already resolve the device.
func (h *CustomerHandler) RegisterRoutes(r *gin.RouterGroup, limits CustomerRouteLimits) {
	r.POST("/signup", chain(limits.Signup, h.signup)...)
	r.POST("/verify", chain(limits.Verify, h.verify)...)
	r.POST("/login", chain(limits.Login, h.login)...)
	r.POST("/logout", h.logout)
	r.POST("/password/reset", chain(limits.PasswordReset, h.passwordReset)...)
	r.POST("/phone", chain(limits.Signup, h.changePhone)...)
	r.POST("/phone/verify", chain(limits.Verify, h.verifyPhone)...)
	r.POST("/resend", chain(limits.Signup, h.resend)...)
	r.POST("/cancel", h.cancel)
	r.PATCH("/profile", h.updateProfile)
	r.GET("/session", h.session)
}

func chain(middlewares []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(middlewares)+1)
	out = append(out, middlewares...)
	return append(out, handler)
}

func currentDevice(c *gin.Context) (*usecase.Device, bool) {
	device, ok := middleware.CurrentDevice(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "device context missing"))
		return nil, false
	}
	return device, true
}

// signup godoc
// @Summary Register a customer account
// @Description Creates the backend account and profile, then sends a signup verification code.
// @Tags Customer
// @Accept json
// @Produce json
// @Param X-Device-ID header string true "Device identifier"
// @Param request body SignupRequest true "Signup request"
// @Success 202 {object} ChallengeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/customer/signup [post]
func (h *CustomerHandler) signup(c *gin.Context) {
	device, ok := currentDevice(c)
	if !ok {
		return
	}

	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid signup payload"))
		return
	}

	ch, err := device.Customer.Signup(c.Request.Context(), usecase.SignupInput{
		FullName:       strings.TrimSpace(req.FullName),
		Email:          req.Email,
		Password:       req.Password,
		Phone:          req.Phone,
		ResumeExisting: req.ResumeExisting,
	})
	if err != nil {
		respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, newChallengeResponse("verification code sent", ch))
}

// verify godoc
// @Summary Verify the signup code
// @Description Checks the one-time code of the pending signup and marks the profile verified.
// @Tags Customer
// @Accept json
// @Produce json
// @Param X-Device-ID header string true "Device identifier"
// @Param request body VerifyRequest true "Verification code"
// @Success 200 {object} ProfileResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/customer/verify [post]
func (h *CustomerHandler) verify(c *gin.Context) {
	device, ok := currentDevice(c)
	if !ok {
		return
	}

	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid verification payload"))
		return
	}

	profile, err := device.Customer.VerifyOTP(c.Request.Context(), strings.TrimSpace(req.Code))
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, ProfileResponse{Profile: profile})
}

// login godoc
// @Summary Customer login
// @Description Signs in with an email address or a registered phone number.
// @Tags Customer
// @Accept json
// @Produce json
// @Param X-Device-ID header string true "Device identifier"
// @Param request body CustomerLoginRequest true "Login request"
// @Success 200 {object} CustomerLoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/customer/login [post]
func (h *CustomerHandler) login(c *gin.Context) {
	device, ok := currentDevice(c)
	if !ok {
		return
	}

	var req CustomerLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	result, err := device.Customer.Login(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, CustomerLoginResponse{
		AccountID:         result.AccountID,
		Authenticated:     result.Authenticated,
		NeedsVerification: result.NeedsVerification,
		Profile:           result.Profile,
	})
}

// logout godoc
// @Summary Customer logout
// @Description Signs the device out and clears its cached session.
// @Tags Customer
// @Produce json
// @Param X-Device-ID header string true "Device identifier"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/customer/logout [post]
func (h *CustomerHandler) logout(c *gin.Context) {
	device, ok := currentDevice(c)
	if !ok {
		return
	}
	device.Customer.Logout(c.Request.Context())
	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

// passwordReset godoc
// @Summary Request a password reset
// @Description Asks the identity backend to email a reset link. Unknown emails are not disclosed.
// @Tags Customer
// @Accept json
// @Produce json
// @Param X-Device-ID header string true "Device identifier"
// @Param request body PasswordResetRequest true "Reset request"
// @Success 202 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/customer/password/reset [post]
func (h *CustomerHandler) passwordReset(c *gin.Context) {
	device, ok := currentDevice(c)
	if !ok {
		return
	}

	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password reset payload"))
		return
	}

	if err := device.Customer.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, MessageResponse{Message: "if the email is registered, a reset link is on its way"})
}

// changePhone godoc
// @Summary Start a phone change
// @Description Sends a verification code to the new phone number of the signed in customer.
// @Tags Customer
// @Accept json
// @Produce json
// @Param X-Device-ID header string true "Device identifier"
// @Param request body PhoneChangeRequest true "New phone number"
// @Success 202 {object} ChallengeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/customer/phone [post]
func (h *CustomerHandler) changePhone(c *gin.Context) {
	device, ok := currentDevice(c)
	if !ok {
		return
	}

	var req PhoneChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid phone payload"))
		return
	}

	ch, err := device.Customer.UpdatePhoneNumber(c.Request.Context(), req.Phone)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, newChallengeResponse("verification code sent to the new number", ch))
}

// verifyPhone godoc
// @Summary Verify a phone change
// @Description Checks the phone change code and stores the new number.
// @Tags Customer
// @Accept json
// @Produce json
// @Param X-Device-ID header string true "Device identifier"
// @Param request body VerifyRequest true "Verification code"
// @Success 200 {object} ProfileResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/customer/phone/verify [post]
func (h *CustomerHandler) verifyPhone(c *gin.Context) {
	device, ok := currentDevice(c)
	if !ok {
		return
	}

	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid verification payload"))
		return
	}

	profile, err := device.Customer.VerifyPhoneOTP(c.Request.Context(), strings.TrimSpace(req.Code))
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, ProfileResponse{Profile: profile})
}

// resend godoc
// @Summary Resend the verification code
// @Description Issues a fresh code for the pending challenge and resets its attempts.
// @Tags Customer
// @Produce json
// @Param X-Device-ID header string true "Device identifier"
// @Success 202 {object} ChallengeResponse
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/customer/resend [post]
func (h *CustomerHandler) resend(c *gin.Context) {
	device, ok := currentDevice(c)
	if !ok {
		return
	}

	ch, err := device.Customer.ResendCode(c.Request.Context())
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, newChallengeResponse("verification code sent", ch))
}

// cancel godoc
// @Summary Cancel verification
// @Description Discards the pending challenge of the device.
// @Tags Customer
// @Produce json
// @Param X-Device-ID header string true "Device identifier"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/customer/cancel [post]
func (h *CustomerHandler) cancel(c *gin.Context) {
	device, ok := currentDevice(c)
	if !ok {
		return
	}
	device.Customer.CancelVerification(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// updateProfile godoc
// @Summary Update the customer profile
// @Description Merges display name, address and company details into the profile.
// @Tags Customer
// @Accept json
// @Produce json
// @Param X-Device-ID header string true "Device identifier"
// @Param request body ProfileUpdateRequest true "Profile fields"
// @Success 200 {object} ProfileResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/customer/profile [patch]
func (h *CustomerHandler) updateProfile(c *gin.Context) {
	device, ok := currentDevice(c)
	if !ok {
		return
	}

	var req ProfileUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid profile payload"))
		return
	}

	profile, err := device.Customer.UpdateProfile(c.Request.Context(), domain.ProfilePatch{
		DisplayName: req.DisplayName,
		Address:     req.Address,
		Company:     req.Company,
	})
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, ProfileResponse{Profile: profile})
}

// session godoc
// @Summary Customer session
// @Description Returns the auth state of the device once the cached session is restored.
// @Tags Customer
// @Produce json
// @Param X-Device-ID header string true "Device identifier"
// @Success 200 {object} usecase.CustomerSnapshot
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/customer/session [get]
func (h *CustomerHandler) session(c *gin.Context) {
	device, ok := currentDevice(c)
	if !ok {
		return
	}
	if !device.Bootstrap.Ready() {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session is still restoring"))
		return
	}
	c.JSON(http.StatusOK, device.Customer.Snapshot())
}
