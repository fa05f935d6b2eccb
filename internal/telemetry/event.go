package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/wahoo-predict/wahoot-sub000/internal/logging"
)

// unknownEventID is returned whenever the active-event lookup fails for any
// reason, matching the reference client's unconditional fallback constant
// (renamed here to avoid naming the source deployment).
const unknownEventID = "unknown_event"

type eventListRequest struct {
	Page   int            `json:"page"`
	Limit  int             `json:"limit"`
	Sort   eventListSort   `json:"sort"`
	Filter eventListFilter `json:"filter"`
}

type eventListSort struct {
	SortBy    string `json:"sortBy"`
	SortOrder string `json:"sortOrder"`
}

type eventListFilter struct {
	Status []string `json:"status"`
}

// EventIDClient fetches the currently active market event's identifier,
// used only for downstream logging/attribution — scoring never depends on
// it.
type EventIDClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// ActiveEventID asks the event-list endpoint for the first LIVE event and
// extracts its id. On any failure it returns the neutral fallback constant
// rather than propagating an error, matching the reference client's
// unconditional fallback behavior.
func (e *EventIDClient) ActiveEventID(ctx context.Context) string {
	log := logging.From(ctx)

	reqBody, err := json.Marshal(eventListRequest{
		Page:  1,
		Limit: 20,
		Sort:  eventListSort{SortBy: "estimatedEnd", SortOrder: "desc"},
		Filter: eventListFilter{Status: []string{"LIVE"}},
	})
	if err != nil {
		log.Debug().Err(err).Msg("active event: failed to build request body")
		return unknownEventID
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL, bytes.NewReader(reqBody))
	if err != nil {
		log.Debug().Err(err).Msg("active event: failed to build http request")
		return unknownEventID
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("active event: request failed")
		return unknownEventID
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Debug().Int("status", resp.StatusCode).Msg("active event: non-2xx response")
		return unknownEventID
	}

	id, ok := extractEventID(body)
	if !ok {
		return unknownEventID
	}
	return id
}

func extractEventID(body []byte) (string, bool) {
	var asList []map[string]any
	if err := json.Unmarshal(body, &asList); err == nil {
		if len(asList) == 0 {
			return "", false
		}
		return firstKnownKey(asList[0])
	}

	var asObj map[string]any
	if err := json.Unmarshal(body, &asObj); err == nil {
		if list, ok := asObj["data"].([]any); ok && len(list) > 0 {
			if first, ok := list[0].(map[string]any); ok {
				return firstKnownKey(first)
			}
		}
		return firstKnownKey(asObj)
	}
	return "", false
}

func firstKnownKey(m map[string]any) (string, bool) {
	for _, key := range []string{"id", "event_id", "_id", "active_event_id", "event"} {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}
