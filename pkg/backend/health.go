package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/finchley/parley/pkg/logger"
)

// HealthStatus reports whether the Ollama service is reachable and
// which models it serves.
type HealthStatus struct {
	Available bool
	Error     error
	Models    []string
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// CheckOllama probes the Ollama service behind host. A connection
// failure is reported in the status, not as a hard error, so callers
// can degrade instead of crashing.
func CheckOllama(ctx context.Context, host string) (*HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/tags", host), nil)
	if err != nil {
		return &HealthStatus{Available: false, Error: err}, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Warn("Failed to connect to Ollama at %s: %v", host, err)
		return &HealthStatus{
			Available: false,
			Error:     fmt.Errorf("cannot connect to Ollama at %s: %w", host, err),
		}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &HealthStatus{
			Available: false,
			Error:     fmt.Errorf("Ollama returned status %d", resp.StatusCode),
		}, nil
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return &HealthStatus{
			Available: true,
			Error:     fmt.Errorf("failed to decode model list: %w", err),
		}, nil
	}

	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, m.Name)
	}
	return &HealthStatus{Available: true, Models: models}, nil
}

// CheckModel reports whether the named model is served.
func CheckModel(ctx context.Context, host, model string) (bool, error) {
	health, err := CheckOllama(ctx, host)
	if err != nil {
		return false, err
	}
	if !health.Available {
		return false, health.Error
	}
	for _, name := range health.Models {
		if name == model {
			return true, nil
		}
	}
	return false, nil
}

// CheckOllamaWithTimeout probes with a bounded wait.
func CheckOllamaWithTimeout(host string, timeout time.Duration) (*HealthStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return CheckOllama(ctx, host)
}
