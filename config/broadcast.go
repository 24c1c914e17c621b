package config

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/chatmediator/wecom-bridge/domain"
	"github.com/chatmediator/wecom-bridge/infrastructure/valkey"
)

const tunablesChannel = "wecom:bridge:tunables"

// TunablesStore holds the process's live copy of domain.Tunables and,
// when attached to Valkey, keeps it updated from whichever process last
// published a change — the same distributed broadcast-then-update-local-
// copy shape monitor.Monitor uses for events, applied here to
// configuration instead.
type TunablesStore struct {
	mu      sync.RWMutex
	current domain.Tunables

	vkClient *valkey.Client
	version  atomic.Int64
}

// NewTunablesStore returns a TunablesStore seeded with initial.
func NewTunablesStore(initial domain.Tunables) *TunablesStore {
	s := &TunablesStore{current: initial}
	return s
}

// Get returns the current tunables. Safe to pass directly as an
// aggregator.TunablesFunc / pacer.TunablesFunc closure:
// func() domain.Tunables { return store.Get() }.
func (s *TunablesStore) Get() domain.Tunables {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set updates the local copy and, if attached to Valkey, publishes it so
// every other process picks it up.
func (s *TunablesStore) Set(t domain.Tunables) {
	s.mu.Lock()
	s.current = t
	s.mu.Unlock()

	if s.vkClient == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		logrus.WithError(err).Warn("[Config] failed to marshal tunables for broadcast")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cmd := s.vkClient.Inner().B().Publish().Channel(tunablesChannel).Message(string(data)).Build()
	if err := s.vkClient.Inner().Do(ctx, cmd).Error(); err != nil {
		logrus.WithError(err).Warn("[Config] failed to publish tunables update")
	}
}

// AttachValkey starts a background subscriber that applies tunables
// updates published by any process (including this one) to the local
// copy.
func (s *TunablesStore) AttachValkey(client *valkey.Client) {
	s.vkClient = client
	go s.subscribe()
}

func (s *TunablesStore) subscribe() {
	logrus.Info("[Config] starting distributed tunables subscriber")
	err := s.vkClient.Inner().Receive(context.Background(),
		s.vkClient.Inner().B().Subscribe().Channel(tunablesChannel).Build(),
		func(msg valkeylib.PubSubMessage) {
			var t domain.Tunables
			if err := json.Unmarshal([]byte(msg.Message), &t); err != nil {
				logrus.WithError(err).Warn("[Config] dropping malformed tunables broadcast")
				return
			}
			s.mu.Lock()
			s.current = t
			s.mu.Unlock()
		})
	if err != nil {
		logrus.WithError(err).Error("[Config] distributed tunables subscriber failed")
	}
}
