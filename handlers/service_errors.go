package handlers

import (
	"net/http"

	"github.com/upb/llm-chat-gateway/services"
	"github.com/upb/llm-chat-gateway/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)

	var writeErr error
	switch {
	case services.IsNotConfiguredError(err):
		w.Header().Set("Retry-After", "5")
		writeErr = utils.WriteServiceUnavailable(w, err.Error(), details)

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, err.Error(), details)

	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, err.Error())

	case services.IsConflictError(err):
		writeErr = utils.WriteConflict(w, err.Error(), details)

	case services.IsProviderError(err):
		// Upstream rate limits keep their status so clients can back off
		if status, ok := details["status"].(int); ok && status == http.StatusTooManyRequests {
			writeErr = utils.WriteTooManyRequests(w, err.Error(), details)
			break
		}
		writeErr = utils.WriteBadGateway(w, err.Error(), details)

	case services.IsConfigFetchError(err), services.IsSecretError(err):
		writeErr = utils.WriteBadGateway(w, err.Error(), details)

	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

