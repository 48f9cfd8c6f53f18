package handlers

import (
	"net/http"

	"aquasync/internal/service"

	"github.com/gin-gonic/gin"
)

// SignUpRequest creates a user and the account of its device.
type SignUpRequest struct {
	FirstName  string `json:"first_name" binding:"required" example:"Ada"`
	LastName   string `json:"last_name" binding:"required" example:"Okafor"`
	Email      string `json:"email" binding:"required" example:"ada@example.com"`
	Password   string `json:"password" binding:"required"`
	Phone      string `json:"phone,omitempty" example:"+2348000000000"`
	DeviceName string `json:"device_name,omitempty" example:"Borehole pump"`
	OwnerCode  string `json:"owner_code,omitempty"`
}

// SignInRequest is the credentials payload for sign-in.
type SignInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// bindJSONOrBadRequest tries to bind the request body into dst and writes a 400 JSON on failure.
// Returns false if the request was already handled (aborted), true otherwise.
func (h *Handler) bindJSONOrBadRequest(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.log.Infow("bad_request_body", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return false
	}
	return true
}

// @Summary      Register
// @Description  Creates a user and exactly one account. owner_code is required when the server sets one.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      SignUpRequest  true  "Registration payload"
// @Success      200   {object}  service.Identity
// @Failure      400   {object}  map[string]string
// @Failure      403   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /auth/sign-up [post]
func (h *Handler) signUp(c *gin.Context) {
	var input SignUpRequest
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}

	id, err := h.services.SignUp(c.Request.Context(), service.SignUpInput{
		FirstName:  input.FirstName,
		LastName:   input.LastName,
		Email:      input.Email,
		Password:   input.Password,
		Phone:      input.Phone,
		DeviceName: input.DeviceName,
		OwnerCode:  input.OwnerCode,
	})
	if err != nil {
		h.log.Infow("auth_sign_up_failed", "email", input.Email, "err", err)
		h.writeServiceError(c, "auth_sign_up_failed", err)
		return
	}

	h.log.Infow("auth_signed_up", "user_id", id.UserID, "account_id", id.AccountID)
	c.JSON(http.StatusOK, id)
}

// @Summary      Sign in
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      SignInRequest  true  "Credentials"
// @Success      200   {object}  map[string]string  "token"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /auth/sign-in [post]
func (h *Handler) signIn(c *gin.Context) {
	var input SignInRequest
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}

	token, err := h.services.GenerateToken(c.Request.Context(), input.Email, input.Password)
	if err != nil {
		if service.IsRetryable(err) {
			h.writeServiceError(c, "auth_sign_in_failed", err)
			return
		}
		h.log.Infow("auth_sign_in_failed", "email", input.Email, "err", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
