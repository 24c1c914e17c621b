package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chatmediator/wecom-bridge/domain"
)

// SendClient delivers one already-segmented reply through the outbound
// send RPC. Deliberately a single attempt per call and no retry loop:
// pacer.Pacer calls Send once per segment in sequence, and retrying a
// segment here would re-introduce the mid-batch retry the pacing design
// explicitly rules out — a failed segment is just counted and logged by
// the caller.
type SendClient struct {
	httpClient   *http.Client
	sendEndpoint string
	token        string
}

// NewSendClient returns a SendClient posting to sendEndpoint with token
// as the RPC's query-string credential.
func NewSendClient(sendEndpoint, token string, timeout time.Duration) *SendClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SendClient{
		httpClient:   &http.Client{Timeout: timeout},
		sendEndpoint: sendEndpoint,
		token:        token,
	}
}

type sendResponse struct {
	Errcode   int    `json:"errcode"`
	Errmsg    string `json:"errmsg"`
	RequestID string `json:"requestId"`
}

// Send implements pacer.Sender. chatID must be in the "{botID}:{senderID}"
// form transport.Normalize assigns to 1:1 conversations — room/group
// conversations are never sent to here because the filter always rejects
// them before a reply is generated. apiVariant selects the field naming
// the outbound RPC expects: imBotId/imContactId for the enterprise
// variant, botWxid/contactId for the group variant (§6), mirroring the
// same renaming Normalize undoes on the inbound side.
func (c *SendClient) Send(ctx context.Context, chatID, segment string, apiVariant domain.APIVariant) error {
	botID, contactID, ok := splitChatID(chatID)
	if !ok {
		return fmt.Errorf("transport: chat id %q is not a 1:1 conversation id", chatID)
	}

	var body map[string]any
	switch apiVariant {
	case domain.APIVariantGroup:
		body = map[string]any{
			"botWxid":     botID,
			"contactId":   contactID,
			"messageType": int(7),
			"payload":     map[string]string{"text": segment},
		}
	default:
		body = map[string]any{
			"imBotId":     botID,
			"imContactId": contactID,
			"messageType": int(7),
			"payload":     map[string]string{"text": segment},
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("transport: marshal send body: %w", err)
	}

	endpoint := fmt.Sprintf("%s?token=%s", c.sendEndpoint, url.QueryEscape(c.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("transport: build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transport: send request: %w", err)
	}
	defer resp.Body.Close()

	var parsed sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("transport: decode send response: %w", err)
	}
	if parsed.Errcode != 0 {
		return fmt.Errorf("transport: send failed (%d): %s", parsed.Errcode, parsed.Errmsg)
	}
	return nil
}

func splitChatID(chatID string) (botID, contactID string, ok bool) {
	idx := strings.Index(chatID, ":")
	if idx < 0 {
		return "", "", false
	}
	return chatID[:idx], chatID[idx+1:], true
}
