package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AI 接口沿用前端约定的宽松 CORS：任意来源 + 固定的允许头列表。
const (
	corsAllowOrigin  = "*"
	corsAllowHeaders = "authorization, x-client-info, apikey, content-type"
	corsAllowMethods = "POST, OPTIONS"
)

// AssistCORSMiddleware 为 AI 接口附加 CORS 头。
// OPTIONS 预检直接返回空 200，其余响应一律携带同一组头。
func AssistCORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", corsAllowOrigin)
		c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
		c.Header("Access-Control-Allow-Methods", corsAllowMethods)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}
