package interceptor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
)

// maxLoggedBody caps how much of a request body is copied into the params.
const maxLoggedBody = 16 << 10

// ControllerFunc is a controller action. It returns the response body, or an
// error that the error middleware turns into a response.
type ControllerFunc func(c *gin.Context) (any, error)

// Handler adapts fn into a gin handler instrumented at the controller layer.
// Path params, query and JSON body become arg0, arg1 and arg2.
func Handler(ic *Interceptor, meta Meta, fn ControllerFunc) gin.HandlerFunc {
	meta.Layer = LayerController
	return func(c *gin.Context) {
		args := controllerArgs(c)
		result, err := Invoke(c.Request.Context(), ic, meta, args, func(context.Context) (any, error) {
			return fn(c)
		})
		if err != nil {
			_ = c.Error(err)
			return
		}
		if c.Writer.Written() {
			return
		}
		if result == nil {
			c.Status(c.Writer.Status())
			return
		}
		c.JSON(c.Writer.Status(), result)
	}
}

func controllerArgs(c *gin.Context) []any {
	args := make([]any, 3)

	if len(c.Params) > 0 {
		params := make(map[string]string, len(c.Params))
		for _, p := range c.Params {
			params[p.Key] = p.Value
		}
		args[0] = params
	}

	if q := c.Request.URL.Query(); len(q) > 0 {
		query := make(map[string]string, len(q))
		for k := range q {
			query[k] = q.Get(k)
		}
		args[1] = query
	}

	// read and put back so the controller can still bind it
	if c.Request.Body != nil {
		raw, _ := io.ReadAll(c.Request.Body)
		c.Request.Body = io.NopCloser(bytes.NewBuffer(raw))
		if len(raw) > 0 && len(raw) <= maxLoggedBody {
			if json.Valid(raw) {
				args[2] = json.RawMessage(raw)
			} else {
				args[2] = string(raw)
			}
		}
	}
	return args
}
