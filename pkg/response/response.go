package response

import (
	"errors"
	"net/http"

	apperrors "github.com/clasedesurf/tidepool/pkg/errors"
	"github.com/gin-gonic/gin"
)

// Success sends a successful JSON response
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// Error sends an error JSON response. Any *AppError in the chain decides the
// status; everything else is reported as an opaque internal error.
func Error(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.Status, errorBody(appErr.Code, appErr.Message))
		return
	}

	c.JSON(apperrors.ErrInternal.Status, errorBody(apperrors.ErrInternal.Code, apperrors.ErrInternal.Message))
}

// Abort is Error for middleware: it stops the handler chain.
func Abort(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.AbortWithStatusJSON(appErr.Status, errorBody(appErr.Code, appErr.Message))
		return
	}

	c.AbortWithStatusJSON(apperrors.ErrInternal.Status, errorBody(apperrors.ErrInternal.Code, apperrors.ErrInternal.Message))
}

// ValidationError sends a validation error response
func ValidationError(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorBody(apperrors.ErrCodeValidationFailed, message))
}

func errorBody(code, message string) gin.H {
	return gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
