package uplink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.nibeuplink.com/api/v1"

	// The cloud caps parameterIds batches per request.
	maxParameterBatch = 15
)

// TokenSource supplies a valid bearer token for each request.
// Satisfied by *oauth.Session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the Nibe Uplink REST API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e APIError) Error() string {
	return fmt.Sprintf("uplink api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr APIError
	return AsAPIError(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func AsAPIError(err error, target *APIError) bool {
	e, ok := err.(APIError)
	if ok {
		*target = e
	}
	return ok
}

func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: httpClient,
	}
}

// GetSystems lists every system the authorized account can see, walking
// the paged listing to the end.
func (c *Client) GetSystems(ctx context.Context) ([]System, error) {
	var systems []System
	for page := 1; ; page++ {
		var resp paged[System]
		if err := c.getJSON(ctx, "/systems?page="+strconv.Itoa(page), &resp); err != nil {
			return nil, err
		}
		systems = append(systems, resp.Objects...)
		if len(systems) >= resp.NumItems || len(resp.Objects) == 0 {
			return systems, nil
		}
	}
}

func (c *Client) GetSystem(ctx context.Context, systemID SystemID) (System, error) {
	var system System
	err := c.getJSON(ctx, "/systems/"+systemID.Label(), &system)
	return system, err
}

func (c *Client) GetUnits(ctx context.Context, systemID SystemID) ([]Unit, error) {
	var units []Unit
	err := c.getJSON(ctx, "/systems/"+systemID.Label()+"/units", &units)
	return units, err
}

// GetCategories returns the service-info categories for one unit, each with
// its parameters included.
func (c *Client) GetCategories(ctx context.Context, systemID SystemID, unitID int) ([]Category, error) {
	path := fmt.Sprintf("/systems/%s/serviceinfo/categories?parameters=true&systemUnitId=%d",
		systemID.Label(), unitID)
	var categories []Category
	err := c.getJSON(ctx, path, &categories)
	return categories, err
}

// GetStatus returns the system-level status icons. Each icon embeds the
// parameter values backing it, so a status poll doubles as a bulk
// parameter read.
func (c *Client) GetStatus(ctx context.Context, systemID SystemID) ([]StatusIcon, error) {
	var icons []StatusIcon
	err := c.getJSON(ctx, "/systems/"+systemID.Label()+"/status", &icons)
	return icons, err
}

func (c *Client) GetUnitStatus(ctx context.Context, systemID SystemID, unitID int) ([]StatusIcon, error) {
	path := fmt.Sprintf("/systems/%s/units/%d/status", systemID.Label(), unitID)
	var icons []StatusIcon
	err := c.getJSON(ctx, path, &icons)
	return icons, err
}

// GetNotifications returns the currently active alarms for a system.
func (c *Client) GetNotifications(ctx context.Context, systemID SystemID) ([]Notification, error) {
	var notifications []Notification
	for page := 1; ; page++ {
		path := fmt.Sprintf("/systems/%s/notifications?active=true&page=%d",
			systemID.Label(), page)
		var resp paged[Notification]
		if err := c.getJSON(ctx, path, &resp); err != nil {
			return nil, err
		}
		notifications = append(notifications, resp.Objects...)
		if len(notifications) >= resp.NumItems || len(resp.Objects) == 0 {
			return notifications, nil
		}
	}
}

func (c *Client) GetParameter(ctx context.Context, systemID SystemID, parameterID ParameterID) (*Parameter, error) {
	params, err := c.GetParameters(ctx, systemID, []ParameterID{parameterID})
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("parameter %s missing from response", parameterID)
	}
	return &params[0], nil
}

// GetParameters reads parameter values in batches.
func (c *Client) GetParameters(ctx context.Context, systemID SystemID, ids []ParameterID) ([]Parameter, error) {
	var out []Parameter
	for start := 0; start < len(ids); start += maxParameterBatch {
		end := min(start+maxParameterBatch, len(ids))

		query := url.Values{}
		for _, id := range ids[start:end] {
			query.Add("parameterIds", id.String())
		}

		var batch []Parameter
		path := "/systems/" + systemID.Label() + "/parameters?" + query.Encode()
		if err := c.getJSON(ctx, path, &batch); err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// PutParameter writes one settable parameter. The response reports, per
// parameter, whether the pump accepted the write.
func (c *Client) PutParameter(ctx context.Context, systemID SystemID, parameterID ParameterID, value string) (string, error) {
	payload := map[string]any{
		"settings": map[string]string{
			parameterID.String(): value,
		},
	}

	var resp []struct {
		Status    string `json:"status"`
		Parameter struct {
			ParameterID ParameterID `json:"parameterId"`
		} `json:"parameter"`
	}
	if err := c.putJSON(ctx, "/systems/"+systemID.Label()+"/parameters", payload, &resp); err != nil {
		return "", err
	}

	for _, r := range resp {
		if r.Parameter.ParameterID == parameterID {
			return r.Status, nil
		}
	}
	return "", fmt.Errorf("parameter %s missing from write response", parameterID)
}

func (c *Client) GetSmartHomeMode(ctx context.Context, systemID SystemID) (string, error) {
	var resp struct {
		Mode string `json:"mode"`
	}
	err := c.getJSON(ctx, "/systems/"+systemID.Label()+"/smarthome/mode", &resp)
	return resp.Mode, err
}

func (c *Client) PutSmartHomeMode(ctx context.Context, systemID SystemID, mode string) error {
	payload := map[string]string{"mode": mode}
	return c.putJSON(ctx, "/systems/"+systemID.Label()+"/smarthome/mode", payload, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) putJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPut, path, strings.NewReader(string(body)), out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, out any) error {
	started := time.Now()
	endpoint := metricEndpoint(path)

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(method, endpoint, "error").Inc()
		return err
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	requestDuration.WithLabelValues(method, endpoint).Observe(time.Since(started).Seconds())

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return APIError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// metricEndpoint collapses a request path to a low-cardinality label.
func metricEndpoint(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		if _, err := strconv.Atoi(part); err == nil {
			parts[i] = "{id}"
		}
	}
	return "/" + strings.Join(parts, "/")
}
