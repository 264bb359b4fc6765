package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/betbot/unitrade/internal/credstore"
	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/journal"
	"github.com/betbot/unitrade/pkg/logger"
)

// StatusOf maps an error to its HTTP status.
func StatusOf(err error) int {
	if errors.Is(err, journal.ErrNotFound) || errors.Is(err, credstore.ErrNotFound) {
		return http.StatusNotFound
	}
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindRouting:
		return http.StatusBadRequest
	case domain.KindSizing:
		return http.StatusUnprocessableEntity
	case domain.KindExchangeRejected:
		return http.StatusConflict
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error *domain.Error `json:"error"`
}

// body 未分类的错误不把内部细节返回给调用方
func body(err error) errorBody {
	if e, ok := domain.AsError(err); ok {
		return errorBody{Error: e}
	}
	if errors.Is(err, journal.ErrNotFound) || errors.Is(err, credstore.ErrNotFound) {
		return errorBody{Error: &domain.Error{Kind: "NotFound", Message: "not found"}}
	}
	return errorBody{Error: &domain.Error{Kind: "Internal", Message: "internal error"}}
}

func writeError(c *gin.Context, err error) {
	status := StatusOf(err)
	if status == http.StatusInternalServerError {
		logger.WithField("path", c.FullPath()).Errorf("internal error: %v", err)
	}
	c.JSON(status, body(err))
}

func badRequest(c *gin.Context, msg string) {
	writeError(c, domain.NewError(domain.KindValidation, "", msg))
}
