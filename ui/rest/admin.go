package rest

import (
	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/chatmediator/wecom-bridge/monitor"
)

// Admin exposes operational visibility into the running process: recent
// lifecycle events, running success/failure totals, and a live websocket
// feed of events as they happen, all sourced from the same monitor.Monitor
// the pipeline records into. Grounded on ui/rest/monitoring.go's
// /monitoring group and health.go's ResponseData usage, collapsed from
// the multi-store cluster view down to the single Recorder this service
// keeps.
type Admin struct {
	monitor *monitor.Monitor
}

// InitRestAdmin registers the admin/health routes on app.
func InitRestAdmin(app fiber.Router, m *monitor.Monitor) Admin {
	handler := Admin{monitor: m}

	health := app.Group("/api/health")
	health.Get("/status", handler.Status)

	mon := app.Group("/monitoring")
	mon.Get("/stats", handler.Stats)
	mon.Get("/events", handler.Events)

	mon.Use("/feed", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	mon.Get("/feed", websocket.New(handler.Feed))

	return handler
}

func (h *Admin) Status(c *fiber.Ctx) error {
	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "ok",
	})
}

func (h *Admin) Stats(c *fiber.Ctx) error {
	snap := h.monitor.Snapshot()
	logrus.Debugf("[Admin] stats polled: %s successes, %s failures",
		humanize.Comma(snap.TotalSuccess), humanize.Comma(snap.TotalFailure))
	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Monitoring stats retrieved",
		Results: map[string]any{
			"total_success": snap.TotalSuccess,
			"total_failure": snap.TotalFailure,
		},
	})
}

func (h *Admin) Events(c *fiber.Ctx) error {
	snap := h.monitor.Snapshot()
	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Recent events retrieved",
		Results: snap.Recent,
	})
}

// Feed streams every MonitoringEvent recorded from the moment a client
// connects onward — the live dashboard feed, grounded on
// ui/websocket/websocket.go's connection-registry/broadcast-channel
// shape, collapsed here to one Monitor.Subscribe() channel per
// connection instead of a shared client registry, since fan-out already
// happens inside monitor.Monitor.
func (h *Admin) Feed(conn *websocket.Conn) {
	events, unsubscribe := h.monitor.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case e := <-events:
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}
