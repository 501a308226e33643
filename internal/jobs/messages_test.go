package jobs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"fotobudka/internal/domain"
	"fotobudka/internal/gateway"
	"fotobudka/internal/generation"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"backend failure", &domain.GenerationFailedError{Message: "face not found"}, "Generation failed: face not found"},
		{"backend failure without text", &domain.GenerationFailedError{}, "Generation failed. Please try again."},
		{"download", fmt.Errorf("%w: boom", domain.ErrDownloadFailed), "The result could not be downloaded. Please try again."},
		{"poll limit", generation.ErrPollAttemptsExhausted, "The generation is taking too long. Please try again later."},
		{"decode", errDecodeImage, "The generated image could not be read."},
		{"payment", &gateway.HTTPStatusError{Code: http.StatusPaymentRequired}, "Not enough tokens for this effect."},
		{"unauthorized", fmt.Errorf("wrap: %w", &gateway.HTTPStatusError{Code: http.StatusUnauthorized}), "Your session is not authorized. Restart the app and try again."},
		{"forbidden", &gateway.HTTPStatusError{Code: http.StatusForbidden}, "Your session is not authorized. Restart the app and try again."},
		{"no session", fmt.Errorf("submit: %w", domain.ErrUnauthorized), "Your session is not authorized. Restart the app and try again."},
		{"server", &gateway.HTTPStatusError{Code: http.StatusBadGateway}, "The generation service is unavailable. Please try again later."},
		{"rejected", &gateway.HTTPStatusError{Code: http.StatusBadRequest}, "The request was rejected by the server."},
		{"network", &gateway.NetworkError{Err: errors.New("reset")}, "Network connection problem. Check your connection and retry."},
		{"decoding", &gateway.DecodingError{Err: errors.New("eof")}, "Unexpected response from the server."},
		{"other", errors.New("disk full"), "Something went wrong. Please try again."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, userMessage(tt.err))
		})
	}
}
