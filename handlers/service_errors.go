package handlers

import (
	"errors"
	"net/http"

	"github.com/zeroveil/gateway/services"
	"github.com/zeroveil/gateway/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses. This is the only
// place denial codes are translated to transport status codes.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	var domainErr *services.DomainError
	if !errors.As(err, &domainErr) {
		logger.Error("unhandled error type", zap.Error(err))
		if werr := utils.WriteInternalServerError(w, "An unexpected error occurred"); werr != nil {
			logger.Error("failed to write error response", zap.Error(werr))
		}
		return
	}

	if domainErr.Code == services.CodeInternal {
		// Log internal errors in full but return a generic message
		logger.Error("internal error", zap.Error(domainErr))
		if werr := utils.WriteInternalServerError(w, "An internal error occurred"); werr != nil {
			logger.Error("failed to write error response", zap.Error(werr))
		}
		return
	}

	code := services.GetErrorCode(err)
	if werr := utils.WriteErrorCode(w, domainErr.HTTPStatus, string(code),
		domainErr.Message, services.GetErrorDetails(err)); werr != nil {
		logger.Error("failed to write error response",
			zap.String("code", string(code)),
			zap.Error(werr))
	}
}
