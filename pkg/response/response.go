// Package response 统一 HTTP JSON 响应格式
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body 响应体
type Body struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 返回 200 与数据
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Code: "OK", Message: "success", Data: data})
}

// ErrorWithStatus 返回指定状态码的错误，data 可附带已持久化的资源标识
func ErrorWithStatus(c *gin.Context, status int, code, message string, data interface{}) {
	c.AbortWithStatusJSON(status, Body{Code: code, Message: message, Data: data})
}
