package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/telecrm/backend/internal/auth"
	"github.com/telecrm/backend/internal/http/middleware"
	"github.com/telecrm/backend/internal/models"
)

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	UserType string `json:"userType" validate:"required"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse repeats userType at the top level for clients that route on it directly.
type LoginResponse struct {
	Token     string      `json:"token"`
	UserType  models.Role `json:"userType"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      models.User `json:"user"`
}

// @Summary Register a user
// @Tags auth
// @Accept json
// @Produce json
// @Param body body RegisterRequest true "account"
// @Success 201 {object} models.User
// @Router /api/register [post]
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if !h.bind(c, &req) {
		return
	}

	// Registration is public; an admin bearer token unlocks every role.
	var actor *auth.Session
	if token, ok := middleware.BearerToken(c); ok {
		if sess, err := h.Auth.Authenticate(c.Request.Context(), token); err == nil {
			actor = &sess
		}
	}

	u, err := h.Auth.Register(c.Request.Context(), auth.RegisterInput{
		Username: req.Username,
		Password: req.Password,
		UserType: req.UserType,
	}, actor)
	switch {
	case errors.Is(err, auth.ErrInvalidRole):
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, auth.ErrUsernameTaken):
		writeError(c, http.StatusConflict, "USERNAME_TAKEN", err.Error(), nil)
	case errors.Is(err, auth.ErrRegistrationClosed), errors.Is(err, auth.ErrAdminRegistration):
		writeError(c, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	case err != nil:
		h.Logger.Error().Err(err).Msg("register failed")
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to register user", nil)
	default:
		c.JSON(http.StatusCreated, u)
	}
}

// @Summary Log in
// @Tags auth
// @Accept json
// @Produce json
// @Param body body LoginRequest true "credentials"
// @Success 200 {object} LoginResponse
// @Router /api/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if !h.bind(c, &req) {
		return
	}
	token, sess, err := h.Auth.Login(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", err.Error(), nil)
		return
	}
	if err != nil {
		h.Logger.Error().Err(err).Msg("login failed")
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to log in", nil)
		return
	}
	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		UserType:  sess.Role,
		ExpiresAt: sess.ExpiresAt,
		User:      models.User{ID: sess.UserID, Username: sess.Username, UserType: sess.Role},
	})
}

func (h *Handler) Logout(c *gin.Context) {
	if err := h.Auth.Logout(c.Request.Context(), session(c)); err != nil {
		h.Logger.Error().Err(err).Msg("logout failed")
		writeError(c, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Failed to end session", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, session(c))
}

// @Summary List users
// @Tags users
// @Produce json
// @Param userType query string false "Admin, Agent or TeleCaller"
// @Success 200 {array} models.User
// @Router /api/users [get]
func (h *Handler) Users(c *gin.Context) {
	var role models.Role
	if raw := c.Query("userType"); raw != "" {
		r, ok := models.ParseRole(raw)
		if !ok {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", auth.ErrInvalidRole.Error(), nil)
			return
		}
		role = r
	}
	users, err := h.Store.ListUsers(c.Request.Context())
	if err != nil {
		h.storeError(c, "Failed to list users", err)
		return
	}
	if role != "" {
		filtered := users[:0]
		for _, u := range users {
			if u.UserType == role {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}
	c.JSON(http.StatusOK, users)
}
