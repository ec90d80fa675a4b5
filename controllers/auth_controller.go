package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/meritboard/config"
	"github.com/cppla/meritboard/middleware"
	"github.com/cppla/meritboard/models"
	"github.com/cppla/meritboard/utils"
)

// AuthController issues and revokes bearer tokens.
type AuthController struct {
	db *gorm.DB
}

// NewAuthController creates an AuthController.
func NewAuthController(db *gorm.DB) *AuthController {
	return &AuthController{db: db}
}

// Login authenticates a user via username and password.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required,notblank,max=64"`
		Password string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		bindError(ctx, err)
		return
	}

	var user models.User
	err := a.db.WithContext(ctx.Request.Context()).Where("username = ?", strings.TrimSpace(req.Username)).First(&user).Error
	if err != nil || !utils.CheckPassword(user.PasswordHash, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40107, "invalid username or password")
		return
	}

	ttl := time.Duration(config.Get().JWTTTLHours) * time.Hour
	token, claims, err := utils.GenerateToken(utils.TokenSubject{
		UserID:   user.ID,
		Username: user.Username,
		Role:     string(user.Role),
		TutorID:  user.TutorID,
	}, ttl)
	if err != nil {
		utils.Logger.Error("generate token failed", zap.Uint("user_id", user.ID), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to generate token")
		return
	}

	utils.Success(ctx, gin.H{
		"token":      token,
		"expires_at": claims.ExpiresAt.Time,
		"user":       user,
	})
}

// Logout invalidates the token by blacklisting it until expiration.
func (a *AuthController) Logout(ctx *gin.Context) {
	tokenID, expiresAt := middleware.CurrentToken(ctx)
	utils.BlacklistToken(ctx.Request.Context(), tokenID, expiresAt)
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the authenticated user.
func (a *AuthController) Me(ctx *gin.Context) {
	p := middleware.CurrentPrincipal(ctx)
	var user models.User
	if err := a.db.WithContext(ctx.Request.Context()).First(&user, p.ID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "user not found")
		return
	}
	utils.Success(ctx, user)
}
