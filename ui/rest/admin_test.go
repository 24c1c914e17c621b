package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmediator/wecom-bridge/domain"
	"github.com/chatmediator/wecom-bridge/monitor"
)

func Test_Status_ReportsOK(t *testing.T) {
	app := fiber.New()
	InitRestAdmin(app, monitor.New(10, "test-server"))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/health/status", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out ResponseData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "SUCCESS", out.Code)
}

func Test_Stats_ReportsRunningTotals(t *testing.T) {
	m := monitor.New(10, "test-server")
	m.Record(domain.MonitoringEvent{Stage: domain.StageSuccess})
	m.Record(domain.MonitoringEvent{Stage: domain.StageFailure})

	app := fiber.New()
	InitRestAdmin(app, m)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/monitoring/stats", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Results struct {
			TotalSuccess int64 `json:"total_success"`
			TotalFailure int64 `json:"total_failure"`
		} `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.EqualValues(t, 1, out.Results.TotalSuccess)
	assert.EqualValues(t, 1, out.Results.TotalFailure)
}

func Test_Events_ReportsRecentEvents(t *testing.T) {
	m := monitor.New(10, "test-server")
	m.Record(domain.MonitoringEvent{ChatID: "chat-1", Stage: domain.StageReceived})

	app := fiber.New()
	InitRestAdmin(app, m)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/monitoring/events", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Results []domain.MonitoringEvent `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Results, 1)
	assert.Equal(t, "chat-1", out.Results[0].ChatID)
}
