package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
)

type chatRequest struct {
	Message string `json:"message" validate:"required"`
}

func (a *API) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	caller, ok := a.authenticate(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, badBodyMessage(err))
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "message is required")
		return
	}

	result, err := a.relay.Chat(r.Context(), caller, req.Message)
	if err != nil {
		status, msg := statusFor(err)
		a.logger.WarnContext(r.Context(), "chat failed",
			slog.String("caller_id", caller.ID), slog.Int("status", status), slog.Any("error", err))
		writeError(w, r, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func badBodyMessage(err error) string {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return "request body too large"
	case errors.Is(err, errEmptyBody):
		return errEmptyBody.Error()
	case errors.Is(err, errTrailingData):
		return errTrailingData.Error()
	default:
		return "invalid JSON body"
	}
}
