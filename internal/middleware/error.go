package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/httputil"
	"github.com/jwalitptl/clinic-api/pkg/logger"
)

// ErrorHandler logs the errors handlers attached to the context and answers
// with the last one when the handler wrote no response itself
func ErrorHandler(base *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		log := logger.FromContext(c.Request.Context(), base)
		for _, e := range c.Errors {
			code := errors.CodeOf(e.Err)
			if code == errors.ErrInternal || code == errors.ErrPersistence {
				log.Error(e.Err, "Request error", "path", c.FullPath(), "error_code", code.String())
				continue
			}
			log.Debug("Request rejected", "path", c.FullPath(), "error_code", code.String(), "error", e.Error())
		}

		if !c.Writer.Written() {
			httputil.RespondWithError(c, c.Errors.Last().Err)
		}
	}
}
