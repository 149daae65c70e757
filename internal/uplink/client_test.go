package uplink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type staticTokens struct{}

func (staticTokens) Token(context.Context) (string, error) { return "test-token", nil }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, staticTokens{}, srv.Client())
}

func TestGetSystemsWalksPages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `{"page":1,"itemsPerPage":2,"numItems":3,"objects":[
				{"systemId":1,"name":"Cabin"},{"systemId":2,"name":"House"}]}`)
		case "2":
			fmt.Fprint(w, `{"page":2,"itemsPerPage":2,"numItems":3,"objects":[
				{"systemId":3,"name":"Garage"}]}`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	})

	systems, err := c.GetSystems(context.Background())
	require.NoError(t, err)
	require.Len(t, systems, 3)
	require.Equal(t, SystemID(3), systems[2].SystemID)
	require.Equal(t, "Garage", systems[2].Name)
}

func TestGetParametersBatches(t *testing.T) {
	var batchSizes []int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		ids := r.URL.Query()["parameterIds"]
		batchSizes = append(batchSizes, len(ids))

		params := make([]Parameter, 0, len(ids))
		for _, id := range ids {
			params = append(params, Parameter{ParameterID: ParameterID(id), Value: "1"})
		}
		require.NoError(t, json.NewEncoder(w).Encode(params))
	})

	ids := make([]ParameterID, 20)
	for i := range ids {
		ids[i] = ParameterID(fmt.Sprintf("4%04d", i))
	}

	params, err := c.GetParameters(context.Background(), 123, ids)
	require.NoError(t, err)
	require.Len(t, params, 20)
	require.Equal(t, []int{15, 5}, batchSizes)
}

func TestGetParameterValueShapes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// The cloud mixes numeric and string values, and numeric ids.
		fmt.Fprint(w, `[{"parameterId":40004,"title":"outdoor temp.","unit":"°C",
			"value":-3.5,"rawValue":-35,"displayValue":"-3.5°C"}]`)
	})

	p, err := c.GetParameter(context.Background(), 123, "40004")
	require.NoError(t, err)
	require.Equal(t, ParameterID("40004"), p.ParameterID)

	f, ok := p.Value.Float64()
	require.True(t, ok)
	require.Equal(t, -3.5, f)
}

func TestPutParameter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/systems/123/parameters", r.URL.Path)

		var payload struct {
			Settings map[string]string `json:"settings"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, map[string]string{"47011": "2"}, payload.Settings)

		fmt.Fprint(w, `[{"status":"DONE","parameter":{"parameterId":47011}}]`)
	})

	status, err := c.PutParameter(context.Background(), 123, "47011", "2")
	require.NoError(t, err)
	require.Equal(t, "DONE", status)
}

func TestGetStatusEmbedsParameters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/systems/123/status", r.URL.Path)
		fmt.Fprint(w, `[{"title":"Heating","image":"heating","parameters":[
			{"parameterId":43009,"title":"calc. supply","value":"32.1"}]}]`)
	})

	icons, err := c.GetStatus(context.Background(), 123)
	require.NoError(t, err)
	require.Len(t, icons, 1)
	require.Equal(t, "Heating", icons[0].Title)
	require.Len(t, icons[0].Parameters, 1)
	require.Equal(t, ParameterID("43009"), icons[0].Parameters[0].ParameterID)
}

func TestGetNotifications(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "true", r.URL.Query().Get("active"))
		fmt.Fprint(w, `{"page":1,"itemsPerPage":10,"numItems":1,"objects":[
			{"notificationId":7,"systemUnitId":0,"occuredAt":"2026-08-30T10:00:00Z",
			 "severity":2,"status":"ACTIVE","header":"Low pressure","description":"Alarm 163"}]}`)
	})

	notifications, err := c.GetNotifications(context.Background(), 123)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	require.Equal(t, 7, notifications[0].NotificationID)
	require.Equal(t, "Low pressure", notifications[0].Header)
}

func TestAPIErrorSurfacesStatusAndBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"insufficient scope"}`)
	})

	_, err := c.GetSystem(context.Background(), 123)
	var apiErr APIError
	require.True(t, AsAPIError(err, &apiErr))
	require.Equal(t, http.StatusForbidden, apiErr.Status)
	require.Contains(t, apiErr.Body, "insufficient scope")
}

func TestSmartHomeMode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/systems/123/smarthome/mode", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, `{"mode":"DEFAULT_OPERATION"}`)
		case http.MethodPut:
			var payload map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			require.Equal(t, "AWAY_FROM_HOME", payload["mode"])
		}
	})

	mode, err := c.GetSmartHomeMode(context.Background(), 123)
	require.NoError(t, err)
	require.Equal(t, "DEFAULT_OPERATION", mode)

	require.NoError(t, c.PutSmartHomeMode(context.Background(), 123, "AWAY_FROM_HOME"))
}
