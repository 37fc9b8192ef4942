package middleware

import (
	"strconv"
	"time"

	"fingergun/apperr"

	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Code    apperr.Code   `json:"code"`
	Message string        `json:"message"`
	Reason  apperr.Reason `json:"reason,omitempty"`
	Field   string        `json:"field,omitempty"`
}

// AbortWithError writes the error envelope for err and stops the chain.
// Foreign errors become INTERNAL without detail; the cause is attached to
// the context so RequestLogger can log it.
func AbortWithError(c *gin.Context, err error) {
	e := apperr.From(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(e.Code.HTTPStatus(), gin.H{"error": errorBody{
		Code:    e.Code,
		Message: e.Message,
		Reason:  e.Reason,
		Field:   e.Field,
	}})
}

// AbortRateLimited answers 429 with a Retry-After header in whole seconds.
func AbortRateLimited(c *gin.Context, retryAfter time.Duration) {
	secs := int((retryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
	AbortWithError(c, apperr.New(apperr.CodeRateLimited, "too many requests, retry later"))
}
