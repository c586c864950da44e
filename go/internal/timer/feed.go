package timer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mcdev12/roundsync/go/clients"
)

// HTTPFeed reads remaining time from a server's timer endpoint.
type HTTPFeed struct {
	client *clients.BaseClient
}

func NewHTTPFeed(baseURL, authToken string) *HTTPFeed {
	c := clients.NewBaseClient(baseURL)
	c.SetHeader("Accept", "application/json")
	if authToken != "" {
		c.SetHeader("Authorization", "Bearer "+authToken)
	}
	return &HTTPFeed{client: c}
}

func (f *HTTPFeed) Remaining(ctx context.Context, timerID string) (Status, error) {
	body, err := f.client.Get(ctx, RemainingPath+"?timer_id="+url.QueryEscape(timerID))
	if err != nil {
		if clients.IsStatus(err, http.StatusNotFound) {
			return Status{}, ErrTimerNotFound
		}
		return Status{}, fmt.Errorf("failed to fetch remaining time: %w", err)
	}

	var status Status
	if err := json.Unmarshal(body, &status); err != nil {
		return Status{}, fmt.Errorf("failed to decode remaining time: %w", err)
	}
	return status, nil
}
