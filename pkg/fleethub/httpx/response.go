// Package httpx maps the core's typed errors onto wire responses. It is
// the only place status codes are chosen.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jmcentee/fleethub/pkg/fleethub/apperr"
)

// ErrorResponse is the JSON error envelope. Details carries the
// offending ids/fields where the core named them.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindDuplicateKey, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as a JSON response. Internal errors are logged with
// their cause and surfaced as a generic failure without internal detail.
func Error(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		slog.Error("internal error", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	resp := ErrorResponse{Error: err.Error()}
	var e *apperr.Error
	if errors.As(err, &e) {
		resp.Error = e.Message
		resp.Details = e.Details
	}
	c.JSON(statusOf(kind), resp)
}
