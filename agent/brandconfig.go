package agent

import (
	"context"
	"encoding/json"

	"github.com/chatmediator/wecom-bridge/domain/kv"
)

// KVBrandConfig reads {config_data, reply_prompts} as a single JSON blob
// cached in the KV store under brand:config:{conversation_id}, refreshed
// by an out-of-band sync job not modeled here. Grounded on
// workspace/application/message_processor.go's pattern of tolerating a
// map-shaped value from the store rather than requiring a typed struct.
type KVBrandConfig struct {
	kv kv.Store
}

// NewKVBrandConfig returns a KVBrandConfig backed by store.
func NewKVBrandConfig(store kv.Store) *KVBrandConfig {
	return &KVBrandConfig{kv: store}
}

func (c *KVBrandConfig) GetContext(ctx context.Context, conversationID string) (map[string]any, error) {
	raw, err := c.kv.Get(ctx, "brand:config:"+conversationID)
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MemoryBrandConfig is a directly-settable BrandConfigProvider for tests.
type MemoryBrandConfig struct {
	Contexts map[string]map[string]any
}

// NewMemoryBrandConfig returns an empty MemoryBrandConfig.
func NewMemoryBrandConfig() *MemoryBrandConfig {
	return &MemoryBrandConfig{Contexts: make(map[string]map[string]any)}
}

func (m *MemoryBrandConfig) GetContext(_ context.Context, conversationID string) (map[string]any, error) {
	return m.Contexts[conversationID], nil
}
