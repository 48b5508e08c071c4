package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/mealhelper/tracelog/internal/pkg/apperrors"
	"github.com/mealhelper/tracelog/internal/pkg/clientmeta"
	"github.com/mealhelper/tracelog/internal/pkg/logger"
)

// ErrorHandler renders the last error pushed with c.Error as an AppError body.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			appErr = apperrors.New(apperrors.ErrInternal, err.Error(), err)
		}

		ctx := c.Request.Context()
		ip := clientmeta.Unknown
		if meta, ok := clientmeta.FromContext(ctx); ok {
			ip = meta.IP
		}
		logFields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", appErr.Type,
			"client_ip", ip,
		}

		if appErr.HTTPStatus >= 500 {
			logger.LogError(ctx, appErr, "Internal Server Error", logFields...)
		} else {
			logger.WarnContext(ctx, appErr.Message, logFields...)
		}

		if c.Writer.Written() {
			return
		}
		c.JSON(appErr.HTTPStatus, appErr)
	}
}
