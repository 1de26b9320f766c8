/**
 * @description
 * Type definitions for the Polymarket Gamma API responses.
 * These structs map to the JSON returned by the /events endpoints.
 */

package gamma

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DecidedPriceThreshold is the outcome price at which a closed market counts as decided.
const DecidedPriceThreshold = 0.95

// GammaEvent represents an event object from the Gamma API
type GammaEvent struct {
	ID       string        `json:"id"`
	Slug     string        `json:"slug"`
	Title    string        `json:"title"`
	Active   bool          `json:"active"`
	Closed   bool          `json:"closed"`
	Archived bool          `json:"archived"`
	Markets  []GammaMarket `json:"markets"`
}

// GammaMarket represents a market object from the Gamma API
type GammaMarket struct {
	ID             string      `json:"id"`
	ConditionID    string      `json:"conditionId"`
	Slug           string      `json:"slug"`
	Question       string      `json:"question"`
	GroupItemTitle string      `json:"groupItemTitle"`
	Outcomes       interface{} `json:"outcomes"` // []string or stringified JSON
	OutcomePrices  interface{} `json:"outcomePrices"`
	Active         bool        `json:"active"`
	Closed         bool        `json:"closed"`
}

// OutcomeLabels returns the market's outcome labels
func (gm *GammaMarket) OutcomeLabels() []string {
	var labels []string
	for _, v := range decodeList(gm.Outcomes) {
		if s, ok := v.(string); ok {
			labels = append(labels, s)
		}
	}
	return labels
}

// Prices returns the market's outcome prices aligned with OutcomeLabels
func (gm *GammaMarket) Prices() []float64 {
	raw := decodeList(gm.OutcomePrices)
	prices := make([]float64, len(raw))
	for i, v := range raw {
		prices[i] = parseFloatSafe(v)
	}
	return prices
}

// DecidedLabel returns the label of the outcome a closed market settled on, if any.
// "Yes" maps to the market question, "No" never names an option.
func (gm *GammaMarket) DecidedLabel() (string, bool) {
	if !gm.Closed {
		return "", false
	}
	labels := gm.OutcomeLabels()
	prices := gm.Prices()
	for i, outcome := range labels {
		if i >= len(prices) || prices[i] < DecidedPriceThreshold {
			continue
		}
		switch outcome {
		case "Yes":
			if gm.Question != "" {
				return gm.Question, true
			}
			if gm.GroupItemTitle != "" {
				return gm.GroupItemTitle, true
			}
			return outcome, true
		case "No":
			return "", false
		default:
			return outcome, true
		}
	}
	return "", false
}

// DecidedLabel walks the event's markets and returns the first decided label.
func (ge *GammaEvent) DecidedLabel() (string, bool) {
	for i := range ge.Markets {
		if label, ok := ge.Markets[i].DecidedLabel(); ok {
			return label, true
		}
	}
	return "", false
}

// decodeList accepts either a JSON array or a string holding one
func decodeList(v interface{}) []interface{} {
	switch val := v.(type) {
	case []interface{}:
		return val
	case string:
		var out []interface{}
		if err := json.Unmarshal([]byte(val), &out); err != nil {
			return nil
		}
		return out
	default:
		return nil
	}
}

func parseFloatSafe(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f
	default:
		return 0
	}
}
