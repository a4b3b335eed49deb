package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ticketpro/seatmap/internal/config"
	"github.com/ticketpro/seatmap/internal/utils"
)

// roleAdmin is the only role the service issues; viewer traffic is
// anonymous and never authenticates.
const roleAdmin = "ADMIN"

// AuthHandler implements login for the single admin operator.  There is
// no user table: the operator's credentials come from the environment
// and the password is bcrypt-hashed once at startup.
type AuthHandler struct {
	cfg       config.Config
	adminHash string
}

// NewAuthHandler hashes the configured admin password and returns the
// handler.  A hashing failure is a configuration error and panics.
func NewAuthHandler(cfg config.Config) *AuthHandler {
	hash, err := utils.HashPassword(cfg.AdminPassword, cfg.BcryptCost)
	if err != nil {
		panic("hash admin password: " + err.Error())
	}
	return &AuthHandler{cfg: cfg, adminHash: hash}
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResp struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
	Role    string    `json:"role"`
}

// Login verifies the operator credentials and returns a short-lived
// access token.  Invalid email and invalid password produce the same
// response so the endpoint does not leak which part was wrong.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	if req.Email != strings.ToLower(h.cfg.AdminEmail) || !utils.VerifyPassword(h.adminHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	access, err := utils.NewAccessToken(h.cfg.JWTSecret, req.Email, roleAdmin, h.cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	return c.JSON(http.StatusOK, loginResp{Token: access.Token, Expires: access.Exp, Role: roleAdmin})
}
