package valkey

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Key_JoinsPartsWithPrefix(t *testing.T) {
	c := &Client{keyPrefix: "wecom:"}
	assert.Equal(t, "wecom:message:dedup:abc", c.Key("message", "dedup", "abc"))
}

func Test_Key_WithNoPartsReturnsBarePrefix(t *testing.T) {
	c := &Client{keyPrefix: "wecom:"}
	assert.Equal(t, "wecom", c.Key())
}

func Test_NewClient_AddsTrailingColonToPrefix(t *testing.T) {
	// This only exercises the prefix normalization NewClient applies, not
	// the connection — a real connect is covered by
	// Test_NewClient_ConnectsAndPings below.
	assert.Equal(t, "wecom:", normalizePrefix("wecom"))
}

// Test_NewClient_ConnectsAndPings is a live-dependency smoke test,
// grounded on workspace/debug_valkey_test.go's skip-if-unavailable idiom:
// it exercises a real connection when one is reachable and is silently
// skipped otherwise, since this package's whole purpose is wrapping an
// actual Valkey connection.
func Test_NewClient_ConnectsAndPings(t *testing.T) {
	client, err := NewClient(Config{Address: "localhost:6379", KeyPrefix: "wecom-bridge-test", ConnectTimeout: 500 * time.Millisecond})
	if err != nil {
		t.Skip("no valkey instance reachable at localhost:6379")
	}
	defer client.Close()

	require.NoError(t, client.Ping(context.Background()))
	assert.True(t, client.IsConnected())
}
