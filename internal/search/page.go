package search

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
)

// Outcome classifies a failed page fetch.
type Outcome int

// Page fetch outcomes. Success is represented by a nil error.
const (
	OutcomeRetryable Outcome = iota + 1
	OutcomeBlocked
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRetryable:
		return "retryable"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// PageError is returned by sources when a page could not be retrieved.
type PageError struct {
	Page       int
	Outcome    Outcome
	StatusCode int
	Err        error
}

func (e *PageError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("page %d %s (status %d): %v", e.Page, e.Outcome, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("page %d %s: %v", e.Page, e.Outcome, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// OutcomeOf extracts the outcome of err, or OutcomeFatal for foreign errors.
func OutcomeOf(err error) Outcome {
	var pe *PageError
	if errors.As(err, &pe) {
		return pe.Outcome
	}
	return OutcomeFatal
}

// Classify maps an HTTP status to an outcome. ok is true for 200.
func Classify(status int) (outcome Outcome, ok bool) {
	switch {
	case status == http.StatusOK:
		return 0, true
	case status == http.StatusForbidden:
		return OutcomeBlocked, false
	case status == http.StatusTooManyRequests, status >= 500:
		return OutcomeRetryable, false
	default:
		return OutcomeFatal, false
	}
}

type pageBody struct {
	HealthcareProviders []json.RawMessage `json:"healthcareProviders"`
	Total               *int              `json:"total"`
}

// Interpret turns a raw HTTP exchange into a SearchPage or a PageError.
func Interpret(page, status int, body []byte) (crawler.SearchPage, error) {
	if outcome, ok := Classify(status); !ok {
		return crawler.SearchPage{}, &PageError{
			Page:       page,
			Outcome:    outcome,
			StatusCode: status,
			Err:        fmt.Errorf("unexpected status %s", http.StatusText(status)),
		}
	}
	result, err := DecodePage(page, body)
	if err != nil {
		return crawler.SearchPage{}, &PageError{Page: page, Outcome: OutcomeFatal, StatusCode: status, Err: err}
	}
	result.StatusCode = status
	return result, nil
}

// DecodePage parses a search response body. Entries that are not JSON objects
// are counted in Dropped; a missing provider array yields an empty page.
func DecodePage(page int, body []byte) (crawler.SearchPage, error) {
	var parsed pageBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return crawler.SearchPage{}, fmt.Errorf("decode search response: %w", err)
	}
	providers := make([]map[string]any, 0, len(parsed.HealthcareProviders))
	dropped := 0
	for _, raw := range parsed.HealthcareProviders {
		obj, ok := decodeObject(raw)
		if !ok {
			dropped++
			continue
		}
		providers = append(providers, obj)
	}
	return crawler.SearchPage{
		Index:     page,
		Providers: providers,
		Dropped:   dropped,
		Total:     parsed.Total,
		Body:      body,
	}, nil
}

func decodeObject(raw json.RawMessage) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
