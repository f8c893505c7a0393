package handlers

import (
	"crypto/rand"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/morphly-app/morphly/internal/auth"
	"github.com/morphly-app/morphly/internal/errs"
	"github.com/morphly-app/morphly/internal/httpapi/middleware"
	"github.com/morphly-app/morphly/internal/models"
)

type createUserReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// generate a 11 digit random username
func randomUsername11() (string, error) {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	out := make([]byte, 11)
	for i := 0; i < 11; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			return "", err
		}
		out[i] = letters[n.Int64()]
	}
	return string(out), nil
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errs.New(errs.BadRequest, errs.API))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondErr(c, errs.Newf(errs.Internal, errs.API, "failed to hash password"))
		return
	}

	// generate username to avoid conflict
	var username string
	for i := 0; i < 5; i++ {
		u, err := randomUsername11()
		if err != nil {
			respondErr(c, errs.Newf(errs.Internal, errs.API, "failed to generate username"))
			return
		}

		var cnt int64
		if err := h.DB.Model(&models.User{}).Where("username = ?", u).Count(&cnt).Error; err != nil {
			respondErr(c, err)
			return
		}
		if cnt == 0 {
			username = u
			break
		}
	}
	if username == "" {
		respondErr(c, errs.Newf(errs.Internal, errs.API, "failed to allocate username"))
		return
	}

	user := models.User{
		Email:        req.Email,
		Username:     username,
		PasswordHash: hash,
	}
	if err := h.DB.Create(&user).Error; err != nil {
		respondErr(c, errs.Newf(errs.BadRequest, errs.API, "failed to create user (maybe email already exists)"))
		return
	}

	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		respondErr(c, errs.Newf(errs.Internal, errs.API, "failed to sign token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":       user.ID,
		"email":    user.Email,
		"username": user.Username,
		"token":    token,
	})
}

type loginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errs.New(errs.BadRequest, errs.API))
		return
	}

	var user models.User
	if err := h.DB.Where("email = ?", req.Email).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			respondErr(c, errs.Newf(errs.Unauthorized, errs.API, "invalid credentials"))
			return
		}
		respondErr(c, err)
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		respondErr(c, errs.Newf(errs.Unauthorized, errs.API, "invalid credentials"))
		return
	}

	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		respondErr(c, errs.Newf(errs.Internal, errs.API, "failed to sign token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *Handler) Me(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		respondErr(c, errs.New(errs.Unauthorized, errs.API))
		return
	}

	var user models.User
	if err := h.DB.First(&user, uid).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			respondErr(c, errs.New(errs.NotFound, errs.API))
			return
		}
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"username":   user.Username,
		"created_at": user.CreatedAt,
	})
}
