/**
 * @description
 * HTTP Client for the Polymarket Gamma API.
 * Fetches events to learn how the linked real-world market settled.
 *
 * @dependencies
 * - net/http
 * - encoding/json
 * - backend/internal/config
 */

package gamma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/swarmbet/backend/internal/config"
)

const (
	DefaultTimeout = 10 * time.Second
)

// ErrEventNotFound is returned when Gamma has no event for the given id or slug.
var ErrEventNotFound = errors.New("gamma event not found")

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL: cfg.Polymarket.GammaURL,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// GetEventsParams holds query parameters for fetching events
type GetEventsParams struct {
	Limit  int
	Closed *bool
	Slug   string
}

// GetEvents fetches a list of events from Gamma
func (c *Client) GetEvents(ctx context.Context, params GetEventsParams) ([]GammaEvent, error) {
	u, err := url.Parse(fmt.Sprintf("%s/events", c.BaseURL))
	if err != nil {
		return nil, err
	}

	q := u.Query()
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Closed != nil {
		q.Set("closed", strconv.FormatBool(*params.Closed))
	}
	if params.Slug != "" {
		q.Set("slug", params.Slug)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gamma api error: status %d", resp.StatusCode)
	}

	var events []GammaEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, err
	}

	return events, nil
}

// GetEvent fetches a single event by ID
func (c *Client) GetEvent(ctx context.Context, id string) (*GammaEvent, error) {
	u := fmt.Sprintf("%s/events/%s", c.BaseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrEventNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gamma api error: status %d", resp.StatusCode)
	}

	var event GammaEvent
	if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
		return nil, err
	}

	return &event, nil
}

// GetEventBySlug resolves an event through the list endpoint's slug filter
func (c *Client) GetEventBySlug(ctx context.Context, slug string) (*GammaEvent, error) {
	events, err := c.GetEvents(ctx, GetEventsParams{Slug: slug, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrEventNotFound
	}
	return &events[0], nil
}
