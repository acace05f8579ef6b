package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Rrens/chatstream/internal/api/response"
	"github.com/Rrens/chatstream/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

// writeError maps the error taxonomy to a status code
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation  *domain.ValidationError
		transport   *domain.TransportError
		contentType *domain.ContentTypeError
	)

	switch {
	case errors.Is(err, domain.ErrSuperseded):
		response.Error(w, http.StatusConflict, err.Error())
	case errors.As(err, &validation):
		response.BadRequest(w, validation.Reason)
	case errors.Is(err, domain.ErrUnauthenticated):
		response.Unauthorized(w, "authentication required")
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, err.Error())
	case errors.As(err, &transport):
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("Backend request failed")
		response.Error(w, http.StatusBadGateway, map[string]any{
			"status":  transport.Status,
			"message": transport.Message(),
		})
	case errors.As(err, &contentType):
		response.Error(w, http.StatusBadGateway, err.Error())
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		response.InternalError(w, "internal error")
	}
}

// decode reads a JSON body and validates it. It writes the 400 itself and
// reports whether the handler may go on.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.BadRequest(w, "invalid request body")
		return false
	}

	if err := validate.Struct(v); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			fields := make(map[string]string, len(validationErrors))
			for _, e := range validationErrors {
				switch e.Tag() {
				case "required":
					fields[e.Field()] = "field is required"
				case "email":
					fields[e.Field()] = "invalid email format"
				case "max":
					fields[e.Field()] = "must be at most " + e.Param() + " items"
				default:
					fields[e.Field()] = "validation failed on " + e.Tag()
				}
			}
			response.BadRequest(w, fields)
			return false
		}
		response.BadRequest(w, err.Error())
		return false
	}
	return true
}
