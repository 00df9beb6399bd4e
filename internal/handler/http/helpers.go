package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/laundry-tracking/internal/order"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type ValidationErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details"`
}

// respondWithError отправляет JSON ошибку
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrFeedbackNotAllowed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage keeps internal error details out of 5xx responses.
func clientMessage(err error, fallback string) string {
	if mapErrorToStatusCode(err) == http.StatusInternalServerError {
		return fallback
	}
	return err.Error()
}

func formatValidationErrors(errs validator.ValidationErrors) []string {
	details := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			details = append(details, fmt.Sprintf("Field '%s' is required", fe.Field()))
		case "min":
			details = append(details, fmt.Sprintf("Field '%s' must be at least %s", fe.Field(), fe.Param()))
		case "max":
			details = append(details, fmt.Sprintf("Field '%s' must be at most %s", fe.Field(), fe.Param()))
		case "oneof":
			details = append(details, fmt.Sprintf("Field '%s' must be one of: %s", fe.Field(), fe.Param()))
		default:
			details = append(details, fmt.Sprintf("Field '%s' failed on '%s'", fe.Field(), fe.Tag()))
		}
	}
	return details
}

// decodeAndValidate reads a JSON body into dst and runs struct validation. It
// writes the error response itself and reports whether the handler may go on.
// An empty body is accepted when allowEmpty is set.
func (h *OrderHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
			return false
		}
		log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
		respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		return false
	}
	return true
}
