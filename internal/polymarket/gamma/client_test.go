package gamma

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/swarmbet/backend/internal/config"
)

const closedEventJSON = `{
  "id": "123",
  "slug": "who-wins",
  "closed": true,
  "markets": [
    {"question": "Will Alice win?", "groupItemTitle": "Alice", "closed": true,
     "outcomes": "[\"Yes\",\"No\"]", "outcomePrices": "[\"0.01\",\"0.99\"]"},
    {"question": "Will Bob win?", "groupItemTitle": "Bob", "closed": true,
     "outcomes": ["Yes","No"], "outcomePrices": ["0.98","0.02"]}
  ]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := &config.Config{}
	cfg.Polymarket.GammaURL = srv.URL
	return NewClient(cfg)
}

func TestGetEventDecidedLabel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events/123" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(closedEventJSON))
	})

	event, err := client.GetEvent(context.Background(), "123")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	label, ok := event.DecidedLabel()
	if !ok || label != "Will Bob win?" {
		t.Fatalf("expected Bob's market question, got %q (decided=%v)", label, ok)
	}
}

func TestGetEventNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	if _, err := client.GetEvent(context.Background(), "missing"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestGetEventBySlug(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" || r.URL.Query().Get("slug") != "who-wins" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte("[" + closedEventJSON + "]"))
	})

	event, err := client.GetEventBySlug(context.Background(), "who-wins")
	if err != nil {
		t.Fatalf("GetEventBySlug: %v", err)
	}
	if event.ID != "123" {
		t.Fatalf("unexpected event id %q", event.ID)
	}
	if _, err := client.GetEventBySlug(context.Background(), "nope"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound for unknown slug, got %v", err)
	}
}

func TestMarketDecidedLabel(t *testing.T) {
	cases := []struct {
		name   string
		market GammaMarket
		want   string
		ok     bool
	}{
		{
			name:   "open market is undecided",
			market: GammaMarket{Closed: false, Outcomes: `["Yes","No"]`, OutcomePrices: `["1","0"]`, Question: "Q"},
		},
		{
			name:   "no price above threshold",
			market: GammaMarket{Closed: true, Outcomes: `["Yes","No"]`, OutcomePrices: `["0.6","0.4"]`, Question: "Q"},
		},
		{
			name:   "no outcome names nothing",
			market: GammaMarket{Closed: true, Outcomes: `["Yes","No"]`, OutcomePrices: `["0","1"]`, Question: "Q"},
		},
		{
			name:   "yes falls back to group title",
			market: GammaMarket{Closed: true, Outcomes: `["Yes","No"]`, OutcomePrices: `["1","0"]`, GroupItemTitle: "Brazil"},
			want:   "Brazil",
			ok:     true,
		},
		{
			name:   "named outcome is its own label",
			market: GammaMarket{Closed: true, Outcomes: []interface{}{"Lakers", "Celtics"}, OutcomePrices: []interface{}{"0.03", "0.97"}},
			want:   "Celtics",
			ok:     true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.market.DecidedLabel()
			if got != tc.want || ok != tc.ok {
				t.Fatalf("got (%q, %v), want (%q, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}
