package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider is the profile shape returned by the user-management service.
// Verification is informational only and is never used as a filter.
type Provider struct {
	ID        string  `json:"id"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Active    bool    `json:"active"`
	Verified  bool    `json:"verified"`
	Rating    float64 `json:"rating"`
}

type UserClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewUserClient(baseURL string) *UserClient {
	return &UserClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// GetActiveProviders запрашивает активных исполнителей у user-management
func (c *UserClient) GetActiveProviders(ctx context.Context) ([]Provider, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/providers?status=active", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("user service %d: %s", resp.StatusCode, string(body))
	}

	var providers []Provider
	if err := json.NewDecoder(resp.Body).Decode(&providers); err != nil {
		return nil, err
	}
	return providers, nil
}

// IsProviderActive reports whether the given provider exists and is active.
func (c *UserClient) IsProviderActive(ctx context.Context, providerID string) (bool, error) {
	providers, err := c.GetActiveProviders(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range providers {
		if p.ID == providerID {
			return true, nil
		}
	}
	return false, nil
}
