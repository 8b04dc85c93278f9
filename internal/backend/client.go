package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/educaition/station/internal/model"
)

// Client consumes the central test backend's HTTP contract. Only the shape
// of the contract matters to the engine; everything server-side (scoring,
// recommendation, session bookkeeping) stays behind it.
type Client struct {
	base string
	http *http.Client
	log  zerolog.Logger
}

// NewClient creates a backend client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
		log:  log.With().Str("component", "backend_client").Logger(),
	}
}

// RegisterResult is the backend's answer to a (re-)registration. The backend
// treats registration as idempotent per (device, room, test): repeating it
// returns the existing in-progress participant instead of a duplicate.
type RegisterResult struct {
	ParticipantID string `json:"participant_id"`
	Token         string `json:"token"`
	QuestionCount int    `json:"question_count"`
	// Status is "in_progress" for a live attempt, "completed" when the
	// attempt finished out-of-band (other device, admin action).
	Status    string `json:"status"`
	ExpiresIn int64  `json:"expires_in"`
}

// Completed reports whether the backend considers the attempt finished.
func (r *RegisterResult) Completed() bool {
	return r.Status == "completed"
}

type checkCompletionResponse struct {
	HasCompleted bool `json:"has_completed"`
}

// CheckCompletion asks whether the device already completed the test in the
// given room scope.
func (c *Client) CheckCompletion(ctx context.Context, deviceID string, testType model.TestType, roomKey string) (bool, error) {
	q := url.Values{}
	q.Set("device_id", deviceID)
	q.Set("test_type", string(testType))
	q.Set("room_key", roomKey)

	var out checkCompletionResponse
	if err := c.do(ctx, http.MethodGet, "/device-tracking/completion?"+q.Encode(), "", nil, &out); err != nil {
		return false, err
	}
	return out.HasCompleted, nil
}

// MarkCompletion records a completion for the device on the backend.
func (c *Client) MarkCompletion(ctx context.Context, deviceID string, testType model.TestType, roomKey string) error {
	body := map[string]string{
		"device_id": deviceID,
		"test_type": string(testType),
		"room_key":  roomKey,
	}
	return c.do(ctx, http.MethodPost, "/device-tracking/completion", "", body, nil)
}

// GetRoomInfo fetches public room metadata used during the loading stage.
func (c *Client) GetRoomInfo(ctx context.Context, testKey, roomID string) (*model.RoomInfo, error) {
	path := fmt.Sprintf("/tests/%s/rooms/%s", url.PathEscape(testKey), url.PathEscape(roomID))
	var out model.RoomInfo
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates (or re-asserts) a participant for this device in a room.
func (c *Client) Register(ctx context.Context, testKey, roomID, deviceID string, fields model.RegistrationFields) (*RegisterResult, error) {
	path := fmt.Sprintf("/tests/%s/rooms/%s/participants", url.PathEscape(testKey), url.PathEscape(roomID))
	body := map[string]interface{}{
		"device_fingerprint": deviceID,
		"name":               fields.Name,
	}
	if fields.ExternalID != "" {
		body["external_id"] = fields.ExternalID
	}
	if len(fields.Extra) > 0 {
		body["extra"] = fields.Extra
	}

	var out RegisterResult
	if err := c.do(ctx, http.MethodPost, path, "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveStep persists one answered step for tests that write step-by-step
// instead of a single final submission.
func (c *Client) SaveStep(ctx context.Context, participantID, token string, step int, value int) error {
	path := fmt.Sprintf("/participants/%s/steps/%d", url.PathEscape(participantID), step)
	return c.do(ctx, http.MethodPut, path, token, map[string]int{"value": value}, nil)
}

// Submit sends the full answer set. A 409-class conflict maps to
// ErrAlreadyCompleted.
func (c *Client) Submit(ctx context.Context, participantID, token string, answers []int) (model.ResultPayload, error) {
	path := fmt.Sprintf("/participants/%s/submit", url.PathEscape(participantID))
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, path, token, map[string]interface{}{"answers": answers}, &out); err != nil {
		return nil, err
	}
	return model.ResultPayload(out), nil
}

type errorBody struct {
	Detail string `json:"detail"`
}

// do performs one request. A nil body sends no payload; a non-nil out
// decodes the 2xx response body into it.
func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Detail != "" {
			return fmt.Errorf("%w: %s", ErrAlreadyCompleted, eb.Detail)
		}
		return ErrAlreadyCompleted
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return &StatusError{Code: resp.StatusCode, Detail: eb.Detail}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
