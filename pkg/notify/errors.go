package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrNoProviders is returned when a chain is built with no notifiers.
	ErrNoProviders = errors.New("notify: no providers configured")

	// ErrMissingToken is returned when a provider has no credentials.
	ErrMissingToken = errors.New("notify: access token required")

	// ErrMissingRecipient is returned when a provider has nowhere to send.
	ErrMissingRecipient = errors.New("notify: recipient required")
)

// APIError is a non-2xx response from a notification API.
type APIError struct {
	StatusCode int
	Message    string
	Provider   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notify [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// ProviderError wraps a transport error with the provider name.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("notify [%s]: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func wrap(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// checkResponse turns a non-2xx response into an *APIError. It reads the
// body on failure; the caller still closes it.
func checkResponse(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := string(body)

	var errResp struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		switch {
		case errResp.Message != "":
			message = errResp.Message
		case errResp.Error != "":
			message = errResp.Error
		}
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &APIError{StatusCode: resp.StatusCode, Message: message, Provider: provider}
}
