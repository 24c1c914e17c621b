package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmediator/wecom-bridge/agent"
	"github.com/chatmediator/wecom-bridge/aggregator"
	"github.com/chatmediator/wecom-bridge/dedup"
	"github.com/chatmediator/wecom-bridge/domain"
	"github.com/chatmediator/wecom-bridge/filter"
	"github.com/chatmediator/wecom-bridge/history"
	"github.com/chatmediator/wecom-bridge/infrastructure/memkv"
	"github.com/chatmediator/wecom-bridge/infrastructure/memqueue"
	"github.com/chatmediator/wecom-bridge/monitor"
	"github.com/chatmediator/wecom-bridge/pacer"
	"github.com/chatmediator/wecom-bridge/pipeline"
)

type allowAllAccess struct {
	blacklistedGroups map[string]bool
}

func (a allowAllAccess) IsUserPaused(context.Context, string) (bool, error) { return false, nil }
func (a allowAllAccess) IsGroupBlacklisted(_ context.Context, chatID string) (bool, error) {
	return a.blacklistedGroups[chatID], nil
}
func (a allowAllAccess) IsEnterpriseGroupBlocked(context.Context, string) (bool, error) {
	return false, nil
}

type noopSender struct{}

func (noopSender) Send(context.Context, string, string, domain.APIVariant) error { return nil }

func noTypingDelay() domain.Tunables {
	return domain.Tunables{MergeWindowMs: 60_000, MaxMergedMessages: 5}
}

func newTestPipeline(access filter.AccessChecker) *pipeline.Pipeline {
	store := memkv.New()
	q := memqueue.New()

	d := dedup.New(store, 0)
	h := history.New(store, 0, 0)
	f := filter.New(access)
	m := monitor.New(50, "test-server")

	client := agent.NewClient("http://127.0.0.1:0", "", time.Millisecond)
	gw := agent.NewGateway(client, agent.NewMemoryBrandConfig(), agent.NewStaticFallback("稍等"), m)
	p := pacer.New(noopSender{}, noTypingDelay, nil)

	var pipe *pipeline.Pipeline
	agg := aggregator.New(store, q, noTypingDelay, func(ctx context.Context, chatID string, batch []domain.InboundRecord) error {
		return pipe.Process(ctx, chatID, batch)
	})
	pipe = pipeline.New(d, h, f, agg, gw, p, agent.NewStaticFallback("稍等"), m, domain.ScenarioCandidateConsultation)
	return pipe
}

func Test_Receive_AcceptsWellFormedEnterprisePayload(t *testing.T) {
	app := fiber.New()
	InitRestWebhook(app, newTestPipeline(allowAllAccess{}))

	payload := map[string]any{
		"orgId":       "org-1",
		"messageType": 7,
		"messageId":   "msg-1",
		"imContactId": "sender-1",
		"imBotId":     "bot-1",
		"source":      "MOBILE_PUSH",
		"contactType": "PERSONAL_WECHAT",
		"payload":     map[string]any{"text": "hello"},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/message", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out webhookResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
}

func Test_Receive_RejectsUnrecognizedPayloadShapeWith200(t *testing.T) {
	app := fiber.New()
	InitRestWebhook(app, newTestPipeline(allowAllAccess{}))

	body := []byte(`{"foo":"bar"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/message", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode, "a webhook caller must always see 200")

	var out webhookResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out.Success)
	assert.Equal(t, "unrecognized payload shape", out.Message)
}

func Test_Receive_ReportsRecordedToHistoryOnlyForBlacklistedGroup(t *testing.T) {
	app := fiber.New()
	InitRestWebhook(app, newTestPipeline(allowAllAccess{blacklistedGroups: map[string]bool{"bot-1:sender-1": true}}))

	payload := map[string]any{
		"orgId":       "org-1",
		"messageType": 7,
		"messageId":   "msg-1",
		"imContactId": "sender-1",
		"imBotId":     "bot-1",
		"source":      "MOBILE_PUSH",
		"contactType": "PERSONAL_WECHAT",
		"payload":     map[string]any{"text": "hello"},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/message", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out webhookResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.Equal(t, "Message recorded to history only", out.Message)
}

func Test_Receive_RejectsMalformedJSONBody(t *testing.T) {
	app := fiber.New()
	InitRestWebhook(app, newTestPipeline(allowAllAccess{}))

	req := httptest.NewRequest(http.MethodPost, "/webhook/message", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out webhookResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out.Success)
}
