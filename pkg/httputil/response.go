package httputil

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Status  string       `json:"status"`
	Message string       `json:"message,omitempty"`
	Code    string       `json:"code,omitempty"`
	Data    interface{}  `json:"data,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
	Meta    *Pagination  `json:"meta,omitempty"`
}

// FieldError describes one rejected request field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Status: StatusSuccess,
		Data:   data,
	})
}

// RespondWithList sends one page of results
func RespondWithList(c *gin.Context, data interface{}, limit, offset, count int) {
	c.JSON(http.StatusOK, Response{
		Status: StatusSuccess,
		Data:   data,
		Meta:   &Pagination{Limit: limit, Offset: offset, Count: count},
	})
}

// RespondWithError maps err onto its HTTP status. Internal details of
// unclassified errors are never sent to the client.
func RespondWithError(c *gin.Context, err error) {
	appErr, ok := errors.As(err)
	if !ok || appErr.Code == errors.ErrInternal {
		appErr = errors.Internal(err)
	}

	message := appErr.Message
	if appErr.Code == errors.ErrPersistence {
		message = "the request could not be completed, please retry"
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(appErr.Code.HTTPStatus(), Response{
		Status:  StatusError,
		Message: message,
		Code:    appErr.Code.String(),
	})
}

// RespondWithBindError reports a request that failed binding or validation
func RespondWithBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		c.AbortWithStatusJSON(http.StatusBadRequest, Response{
			Status:  StatusError,
			Message: "malformed request: " + err.Error(),
			Code:    errors.ErrValidation.String(),
		})
		return
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, Response{
		Status:  StatusError,
		Message: "request validation failed",
		Code:    errors.ErrValidation.String(),
		Errors:  fields,
	})
}

// RespondWithStatus sends an error envelope with an explicit status, for
// failures raised outside the services such as authentication
func RespondWithStatus(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Status:  StatusError,
		Message: message,
	})
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "gtfield":
		return fmt.Sprintf("must be after %s", fe.Param())
	case "halfhour":
		return "must fall on a full or half hour"
	case "uuid":
		return "must be a valid UUID"
	}
	return fmt.Sprintf("failed on the %q rule", fe.Tag())
}

// ParamUUID parses a path parameter, answering 400 when it is not a UUID
func ParamUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, Response{
			Status:  StatusError,
			Message: fmt.Sprintf("invalid %s", name),
			Code:    errors.ErrValidation.String(),
		})
		return uuid.Nil, false
	}
	return id, true
}
