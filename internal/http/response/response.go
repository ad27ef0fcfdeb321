package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/docrag-backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// ErrorCodeKey holds the envelope code on the gin context so middleware can
// label metrics and logs with it.
const ErrorCodeKey = "error_code"

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	respondErrorMessage(c, status, code, msg)
}

// RespondAPIError unwraps an *apierr.Error when present and falls back to
// status/code otherwise.
func RespondAPIError(c *gin.Context, err error, status int, code string) {
	if ae, ok := apierr.As(err); ok {
		respondErrorMessage(c, ae.Status, ae.Code, ae.Message())
		return
	}
	RespondError(c, status, code, err)
}

func respondErrorMessage(c *gin.Context, status int, code, msg string) {
	if code != "" {
		c.Set(ErrorCodeKey, code)
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondAccepted(c *gin.Context, payload any) {
	c.JSON(http.StatusAccepted, payload)
}
