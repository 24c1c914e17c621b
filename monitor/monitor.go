// Package monitor implements the fire-and-forget lifecycle recorder:
// a local ring buffer plus Valkey pub/sub fan-out so every process in a
// horizontally scaled deployment sees the same event stream, plus an
// in-process Subscribe/fanOut hook the websocket admin feed reads from.
// Grounded directly on pkg/botmonitor/monitor.go's ring buffer +
// distributed subscriber with server-id loop protection.
package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/chatmediator/wecom-bridge/domain"
	"github.com/chatmediator/wecom-bridge/infrastructure/valkey"
)

const eventChannel = "wecom:bridge:events"

// Recorder is the narrow interface the pipeline and its collaborators
// depend on — fire-and-forget, must never block the caller for more
// than a few milliseconds.
type Recorder interface {
	Record(e domain.MonitoringEvent)
}

// Monitor is the default Recorder: an in-process ring buffer, optionally
// distributed across a Valkey pub/sub channel.
type Monitor struct {
	serverID string

	mu     sync.Mutex
	events []domain.MonitoringEvent
	idx    int
	count  int

	vkClient *valkey.Client

	totalSuccess atomic.Int64
	totalFailure atomic.Int64

	subMu sync.Mutex
	subs  map[chan domain.MonitoringEvent]struct{}
}

// New returns a Monitor with a ring buffer of size entries (200 if
// size <= 0) for server identity serverID.
func New(size int, serverID string) *Monitor {
	if size <= 0 {
		size = 200
	}
	return &Monitor{
		events:   make([]domain.MonitoringEvent, size),
		serverID: serverID,
		subs:     make(map[chan domain.MonitoringEvent]struct{}),
	}
}

// Subscribe registers a channel that receives every event recorded from
// this point on (local and, once AttachValkey runs, distributed). The
// returned func unregisters it; callers must call it on disconnect or
// the channel leaks. The channel is buffered and never closed by the
// Monitor — a slow reader just misses events rather than blocking Record.
func (m *Monitor) Subscribe() (<-chan domain.MonitoringEvent, func()) {
	ch := make(chan domain.MonitoringEvent, 32)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		delete(m.subs, ch)
		m.subMu.Unlock()
	}
}

func (m *Monitor) fanOut(e domain.MonitoringEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// AttachValkey turns on cross-process distribution: every locally
// recorded event is published to eventChannel, and a background
// subscriber replays events published by other server ids into this
// Monitor's local buffer without re-publishing (loop protection).
func (m *Monitor) AttachValkey(client *valkey.Client) {
	m.vkClient = client
	go m.subscribe()
}

func (m *Monitor) subscribe() {
	logrus.Info("[Monitor] starting distributed event subscriber")
	err := m.vkClient.Inner().Receive(context.Background(),
		m.vkClient.Inner().B().Subscribe().Channel(eventChannel).Build(),
		func(msg valkeylib.PubSubMessage) {
			var e domain.MonitoringEvent
			if err := json.Unmarshal([]byte(msg.Message), &e); err != nil {
				return
			}
			if e.ServerID == m.serverID {
				return
			}
			m.record(e, false)
		})
	if err != nil {
		logrus.Errorf("[Monitor] distributed subscriber failed: %v", err)
	}
}

// Record stores e locally and, if Valkey distribution is attached,
// publishes it for other processes to see.
func (m *Monitor) Record(e domain.MonitoringEvent) {
	m.record(e, true)
}

func (m *Monitor) record(e domain.MonitoringEvent, publish bool) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.ServerID == "" {
		e.ServerID = m.serverID
	}

	switch e.Stage {
	case domain.StageSuccess:
		m.totalSuccess.Add(1)
	case domain.StageFailure:
		m.totalFailure.Add(1)
	}

	m.mu.Lock()
	m.events[m.idx] = e
	m.idx = (m.idx + 1) % len(m.events)
	if m.count < len(m.events) {
		m.count++
	}
	m.mu.Unlock()

	m.fanOut(e)

	if publish && m.vkClient != nil {
		go func() {
			data, err := json.Marshal(e)
			if err != nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			cmd := m.vkClient.Inner().B().Publish().Channel(eventChannel).Message(string(data)).Build()
			_ = m.vkClient.Inner().Do(ctx, cmd).Error()
		}()
	}
}

// Stats is a snapshot of recent events plus running totals.
type Stats struct {
	TotalSuccess int64                    `json:"total_success"`
	TotalFailure int64                    `json:"total_failure"`
	Recent       []domain.MonitoringEvent `json:"recent"`
}

// Snapshot returns the current ring-buffer contents, oldest first.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.MonitoringEvent, 0, m.count)
	start := (m.idx - m.count + len(m.events)) % len(m.events)
	for i := 0; i < m.count; i++ {
		out = append(out, m.events[(start+i)%len(m.events)])
	}
	return Stats{
		TotalSuccess: m.totalSuccess.Load(),
		TotalFailure: m.totalFailure.Load(),
		Recent:       out,
	}
}
