package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmediator/wecom-bridge/domain"
)

func Test_Send_PostsSegmentToEndpoint(t *testing.T) {
	var gotBody map[string]any
	var gotToken string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sendResponse{Errcode: 0})
	}))
	defer server.Close()

	client := NewSendClient(server.URL, "secret-token", 0)
	err := client.Send(context.Background(), "bot-1:sender-1", "hello there", domain.APIVariantEnterprise)
	require.NoError(t, err)

	assert.Equal(t, "secret-token", gotToken)
	assert.Equal(t, "bot-1", gotBody["imBotId"])
	assert.Equal(t, "sender-1", gotBody["imContactId"])
}

func Test_Send_UsesGroupVariantFieldNames(t *testing.T) {
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sendResponse{Errcode: 0})
	}))
	defer server.Close()

	client := NewSendClient(server.URL, "secret-token", 0)
	err := client.Send(context.Background(), "bot-2:sender-2", "hello there", domain.APIVariantGroup)
	require.NoError(t, err)

	assert.Equal(t, "bot-2", gotBody["botWxid"])
	assert.Equal(t, "sender-2", gotBody["contactId"])
	assert.NotContains(t, gotBody, "imBotId")
}

func Test_Send_RejectsNonOneToOneChatID(t *testing.T) {
	client := NewSendClient("http://example.invalid", "token", 0)
	err := client.Send(context.Background(), "room-without-colon", "hello", domain.APIVariantEnterprise)
	assert.Error(t, err)
}

func Test_Send_ReturnsErrorOnNonZeroErrcode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sendResponse{Errcode: 40001, Errmsg: "invalid token"})
	}))
	defer server.Close()

	client := NewSendClient(server.URL, "token", 0)
	err := client.Send(context.Background(), "bot-1:sender-1", "hello", domain.APIVariantEnterprise)
	assert.ErrorContains(t, err, "invalid token")
}
