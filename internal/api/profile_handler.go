package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"aihub/internal/database"
)

// ProfileHandler 处理当前用户资料的读写。
type ProfileHandler struct {
	db *gorm.DB
}

// NewProfileHandler 构造 ProfileHandler。
func NewProfileHandler(db *gorm.DB) *ProfileHandler {
	return &ProfileHandler{db: db}
}

type updateProfileRequest struct {
	FullName string `json:"full_name" binding:"required,max=128"`
}

// GetProfile 返回当前登录用户的资料。
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var user database.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "profile not found")
			return
		}
		Internal(c, "failed to query profile")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"full_name":  user.FullName,
		"created_at": user.CreatedAt,
	})
}

// UpdateProfile 修改展示名，邮箱不可改。
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	result := h.db.WithContext(c.Request.Context()).
		Model(&database.User{}).
		Where("id = ?", userID).
		Update("full_name", req.FullName)
	if result.Error != nil {
		Internal(c, "failed to update profile")
		return
	}
	if result.RowsAffected == 0 {
		NotFound(c, "profile not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"full_name": req.FullName})
}
