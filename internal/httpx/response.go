// Package httpx 统一 JSON 响应信封：成功 {"code":0,"data":...}，失败 {"code":<http>,"err":<CODE>,"msg":...}。
package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"surplus_market/internal/apperr"
	"surplus_market/internal/logging"
)

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": data})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{"code": 0, "data": data})
}

// Fail 按错误类别输出状态码；底层原因只进日志，不返回给客户端。
func Fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	code, msg := apperr.Public(err)
	if status >= http.StatusInternalServerError {
		logging.FromGin(c).WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"code": status, "err": code, "msg": msg})
}

// BadRequest 请求体或参数无法解析。
func BadRequest(c *gin.Context, msg string) {
	Fail(c, apperr.Validation(apperr.CodeInvalidInput, msg))
}
