package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/castplanhq/castplan/internal/schedule"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 15 * time.Second
	defaultMaxResults     = 2500

	queryTimeFormat = "2006-01-02T15:04:05Z07:00"
)

var errMissingBaseURL = errors.New("remote: base url is required")

// eventPayload is the provider-native event shape.
type eventPayload struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

type eventsResponse struct {
	Success bool           `json:"success"`
	Events  []eventPayload `json:"events"`
}

type statusResponse struct {
	Connected bool `json:"connected"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the remote calendar provider over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errMissingBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// FetchWindow queries events in [timeMin, timeMax] and returns them
// normalized, origin remote. A failed or malformed response yields a
// FetchError and no records.
func (c *Client) FetchWindow(ctx context.Context, timeMin, timeMax time.Time) ([]schedule.Record, error) {
	query := url.Values{}
	query.Set("time_min", timeMin.Format(queryTimeFormat))
	query.Set("time_max", timeMax.Format(queryTimeFormat))
	query.Set("max_results", strconv.Itoa(defaultMaxResults))

	endpoint := c.baseURL + "/events?" + query.Encode()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Err: err}
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, &FetchError{Status: response.StatusCode, Detail: decodeDetail(body)}
	}

	var payload eventsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &FetchError{Status: response.StatusCode, Err: err}
	}
	if !payload.Success {
		return nil, &FetchError{Status: response.StatusCode, Detail: "provider reported failure"}
	}

	records := make([]schedule.Record, 0, len(payload.Events))
	for _, event := range payload.Events {
		record, err := normalizeEvent(event)
		if err != nil {
			c.logger.Warn("skipping malformed remote event",
				zap.String("remote_id", event.ID), zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Status reports whether the provider considers the calendar link connected.
func (c *Client) Status(ctx context.Context) (bool, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false, &FetchError{Err: err}
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return false, &FetchError{Err: err}
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return false, &FetchError{Err: err}
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return false, &FetchError{Status: response.StatusCode, Detail: decodeDetail(body)}
	}

	var payload statusResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return false, &FetchError{Status: response.StatusCode, Err: err}
	}
	return payload.Connected, nil
}

// CreateEvent pushes a locally authored record and returns the remote id
// assigned by the provider.
func (c *Client) CreateEvent(ctx context.Context, record schedule.Record) (string, error) {
	payload, err := c.mutate(ctx, http.MethodPost, c.baseURL+"/events", "create", "", record)
	if err != nil {
		return "", err
	}
	if len(payload.Events) == 0 || payload.Events[0].ID == "" {
		return "", &MutationError{Op: "create", Detail: "provider returned no event id"}
	}
	return payload.Events[0].ID, nil
}

// UpdateEvent pushes a local edit to the linked remote event.
func (c *Client) UpdateEvent(ctx context.Context, record schedule.Record) error {
	if record.RemoteID == "" {
		return &MutationError{Op: "update", Detail: "record has no remote id"}
	}
	endpoint := c.baseURL + "/events/" + url.PathEscape(record.RemoteID)
	_, err := c.mutate(ctx, http.MethodPut, endpoint, "update", record.RemoteID, record)
	return err
}

// DeleteEvent removes the remote counterpart of a deleted record.
func (c *Client) DeleteEvent(ctx context.Context, remoteID string) error {
	if remoteID == "" {
		return &MutationError{Op: "delete", Detail: "empty remote id"}
	}
	endpoint := c.baseURL + "/events/" + url.PathEscape(remoteID)
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return &MutationError{Op: "delete", RemoteID: remoteID, Err: err}
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return &MutationError{Op: "delete", RemoteID: remoteID, Err: err}
	}
	defer response.Body.Close()

	body, _ := io.ReadAll(response.Body)
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return &MutationError{Op: "delete", RemoteID: remoteID, Status: response.StatusCode, Detail: decodeDetail(body)}
	}
	return nil
}

func (c *Client) mutate(ctx context.Context, method, endpoint, op, remoteID string, record schedule.Record) (*eventsResponse, error) {
	description := record.Description
	if tag := CategoryTag(record.Category); !strings.Contains(description, tag) {
		if description == "" {
			description = tag
		} else {
			description = description + "\n" + tag
		}
	}

	requestBody, err := json.Marshal(eventPayload{
		ID:          record.RemoteID,
		Summary:     record.Title,
		Description: description,
		Start:       formatWallClock(record.Date, record.StartTime),
		End:         formatWallClock(record.Date, record.EndTime),
	})
	if err != nil {
		return nil, &MutationError{Op: op, RemoteID: remoteID, Err: err}
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return nil, &MutationError{Op: op, RemoteID: remoteID, Err: err}
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, &MutationError{Op: op, RemoteID: remoteID, Err: err}
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &MutationError{Op: op, RemoteID: remoteID, Err: err}
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, &MutationError{Op: op, RemoteID: remoteID, Status: response.StatusCode, Detail: decodeDetail(body)}
	}

	var payload eventsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &MutationError{Op: op, RemoteID: remoteID, Status: response.StatusCode, Err: err}
	}
	return &payload, nil
}

func normalizeEvent(event eventPayload) (schedule.Record, error) {
	if event.ID == "" {
		return schedule.Record{}, fmt.Errorf("remote: event has no id")
	}
	date, startTime, err := parseWallClock(event.Start)
	if err != nil {
		return schedule.Record{}, fmt.Errorf("remote: bad start %q: %w", event.Start, err)
	}
	_, endTime, err := parseWallClock(event.End)
	if err != nil {
		// An event without a usable end keeps its start as the end.
		endTime = startTime
	}

	category, description := ClassifyDescription(event.Description)
	return schedule.Record{
		ID:          schedule.RecordIDForRemote(event.ID),
		Title:       event.Summary,
		Date:        date,
		StartTime:   startTime,
		EndTime:     endTime,
		Description: description,
		Category:    category,
		RemoteID:    event.ID,
		Origin:      schedule.OriginRemote,
	}, nil
}

// parseWallClock extracts local wall-clock components from an ISO8601
// datetime. The zone suffix is dropped rather than applied: converting
// through UTC would shift events across a day boundary for some zones.
func parseWallClock(value string) (schedule.Date, schedule.ClockTime, error) {
	trimmed := strings.TrimSpace(value)
	if idx := strings.IndexAny(trimmed, "Zz+"); idx >= 10 {
		trimmed = trimmed[:idx]
	}
	// A negative zone offset follows the time part after the date's two dashes.
	if idx := strings.LastIndex(trimmed, "-"); idx > 10 {
		trimmed = trimmed[:idx]
	}

	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		parsed, err := time.Parse(layout, trimmed)
		if err != nil {
			continue
		}
		date := schedule.Date{Year: parsed.Year(), Month: int(parsed.Month()), Day: parsed.Day()}
		clock := schedule.ClockTime{Hour: parsed.Hour(), Minute: parsed.Minute()}
		return date, clock, nil
	}
	return schedule.Date{}, schedule.ClockTime{}, fmt.Errorf("unrecognized datetime %q", value)
}

func formatWallClock(date schedule.Date, clock schedule.ClockTime) string {
	return fmt.Sprintf("%s:00", date.String()+"T"+clock.String())
}

func decodeDetail(body []byte) string {
	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Detail
}
