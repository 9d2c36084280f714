package http

import (
	"github.com/gin-gonic/gin"

	"tripplan-go/internal/authn"
	"tripplan-go/internal/model"
)

// AuthHandler exposes the minimal register/login/refresh/profile surface
// every ownership check in the system is anchored on.
type AuthHandler struct {
	authSvc *authn.Service
}

func NewAuthHandler(authSvc *authn.Service) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

type credentialsBody struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, badParams(err))
		return
	}
	pair, err := h.authSvc.Register(c.Request.Context(), body.Username, body.Password)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, tokenPairResponse(pair))
}

func (h *AuthHandler) Login(c *gin.Context) {
	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, badParams(err))
		return
	}
	pair, err := h.authSvc.Login(c.Request.Context(), body.Username, body.Password)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, tokenPairResponse(pair))
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var body refreshBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, badParams(err))
		return
	}
	pair, err := h.authSvc.Refresh(c.Request.Context(), body.RefreshToken)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, tokenPairResponse(pair))
}

func (h *AuthHandler) Profile(c *gin.Context) {
	user := c.MustGet("user").(*model.User)
	ok(c, gin.H{"id": user.ID, "username": user.Username, "role": user.Role, "created_at": user.CreatedAt})
}

func tokenPairResponse(pair authn.TokenPair) gin.H {
	return gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"user": gin.H{
			"id":       pair.User.ID,
			"username": pair.User.Username,
			"role":     pair.User.Role,
		},
	}
}
