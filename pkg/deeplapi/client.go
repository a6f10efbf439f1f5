package deeplapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultFreeBaseURL = "https://api-free.deepl.com/v2"
	DefaultProBaseURL  = "https://api.deepl.com/v2"
)

// Limiter gates outbound provider calls. Satisfied by both the Redis-backed
// fixed-window limiter and golang.org/x/time/rate.Limiter.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Client queries the DeepL usage endpoint. Standard-tier keys (":fx" suffix)
// go to the free base URL, everything else to the pro one.
type Client struct {
	httpClient  *http.Client
	freeBaseURL string
	proBaseURL  string
	limiter     Limiter
}

// NewClient creates a DeepL API client. limiter may be nil.
func NewClient(freeBaseURL, proBaseURL string, timeout time.Duration, limiter Limiter) *Client {
	if freeBaseURL == "" {
		freeBaseURL = DefaultFreeBaseURL
	}
	if proBaseURL == "" {
		proBaseURL = DefaultProBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		freeBaseURL: freeBaseURL,
		proBaseURL:  proBaseURL,
		limiter:     limiter,
	}
}

// IsStandardSecret reports whether the secret belongs to the free/standard
// tier. DeepL marks those with a ":fx" suffix.
func IsStandardSecret(secret string) bool {
	return strings.HasSuffix(secret, ":fx")
}

// Usage is the provider's snapshot of a key's quota state. The APIKey* pair
// and billing window are reported only for pro-tier keys.
type Usage struct {
	CharacterCount       int64
	CharacterLimit       int64
	APIKeyCharacterCount *int64
	APIKeyCharacterLimit *int64
	StartTime            *time.Time
	EndTime              *time.Time
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deepl API error (status %d): %s", e.StatusCode, e.Message)
}

type usageResponse struct {
	CharacterCount       int64  `json:"character_count"`
	CharacterLimit       int64  `json:"character_limit"`
	APIKeyCharacterCount *int64 `json:"api_key_character_count"`
	APIKeyCharacterLimit *int64 `json:"api_key_character_limit"`
	StartTime            string `json:"start_time"`
	EndTime              string `json:"end_time"`
}

// Usage fetches the current usage counters for a secret.
func (c *Client) Usage(ctx context.Context, secret string) (*Usage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	baseURL := c.proBaseURL
	if IsStandardSecret(secret) {
		baseURL = c.freeBaseURL
	}

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/usage", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch usage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	var payload usageResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse usage response: %w", err)
	}

	usage := &Usage{
		CharacterCount:       payload.CharacterCount,
		CharacterLimit:       payload.CharacterLimit,
		APIKeyCharacterCount: payload.APIKeyCharacterCount,
		APIKeyCharacterLimit: payload.APIKeyCharacterLimit,
		StartTime:            parseTime(payload.StartTime),
		EndTime:              parseTime(payload.EndTime),
	}

	log.Debug().
		Int64("character_count", usage.CharacterCount).
		Int64("character_limit", usage.CharacterLimit).
		Msg("Fetched usage from DeepL")

	return usage, nil
}

// errorMessage extracts the "message" field from a DeepL error body, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return strings.TrimSpace(string(body))
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
