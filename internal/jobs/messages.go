package jobs

import (
	"errors"
	"net/http"

	"fotobudka/internal/domain"
	"fotobudka/internal/gateway"
	"fotobudka/internal/generation"
)

// userMessage maps a task failure to the text shown on an error record.
func userMessage(err error) string {
	var genErr *domain.GenerationFailedError
	if errors.As(err, &genErr) {
		if genErr.Message != "" {
			return "Generation failed: " + genErr.Message
		}
		return "Generation failed. Please try again."
	}
	switch {
	case errors.Is(err, domain.ErrDownloadFailed):
		return "The result could not be downloaded. Please try again."
	case errors.Is(err, generation.ErrPollAttemptsExhausted):
		return "The generation is taking too long. Please try again later."
	case errors.Is(err, errDecodeImage):
		return "The generated image could not be read."
	case errors.Is(err, domain.ErrUnauthorized):
		return "Your session is not authorized. Restart the app and try again."
	}

	var statusErr *gateway.HTTPStatusError
	if errors.As(err, &statusErr) {
		switch code := statusErr.Code; {
		case code == http.StatusPaymentRequired:
			return "Not enough tokens for this effect."
		case code == http.StatusTooManyRequests:
			return "Too many requests. Please wait a moment and retry."
		case code >= 500:
			return "The generation service is unavailable. Please try again later."
		default:
			return "The request was rejected by the server."
		}
	}
	var netErr *gateway.NetworkError
	if errors.As(err, &netErr) {
		return "Network connection problem. Check your connection and retry."
	}
	var decodeErr *gateway.DecodingError
	if errors.As(err, &decodeErr) {
		return "Unexpected response from the server."
	}
	return "Something went wrong. Please try again."
}
