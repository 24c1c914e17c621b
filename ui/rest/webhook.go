// Package rest hosts the fiber HTTP surface: the webhook ingress
// (the unwrapped-JSON contract in this file) and an admin/health surface
// using the ResponseData envelope (response.go, admin.go). Grounded on
// ui/rest/health.go's InitRest*/handler-struct shape, generalized from a
// service-usecase indirection into direct calls onto transport.Normalize
// and pipeline.Pipeline.
package rest

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/chatmediator/wecom-bridge/domain"
	"github.com/chatmediator/wecom-bridge/pipeline"
	"github.com/chatmediator/wecom-bridge/transport"
)

// requestTimeout bounds how long a single webhook call is allowed to
// hold the connection: HandleInbound only ever does KV/queue/history
// writes, never an Agent call, so this is generous headroom rather than
// a tight budget.
const requestTimeout = 8 * time.Second

// Webhook is the inbound message ingress: one endpoint accepting either
// on-the-wire payload shape transport.Normalize recognizes.
type Webhook struct {
	pipeline *pipeline.Pipeline
}

// InitRestWebhook registers the webhook route on app.
func InitRestWebhook(app fiber.Router, p *pipeline.Pipeline) Webhook {
	handler := Webhook{pipeline: p}
	app.Post("/webhook/message", handler.Receive)
	return handler
}

// webhookResponse is the contract callers of the webhook get back: a raw
// {success, message} object, never the ResponseData envelope the rest of
// this package's endpoints use. A webhook caller is a message platform
// retrying on non-2xx, not an API client inspecting a status code field,
// so this endpoint always answers 200 regardless of verdict — rejection,
// record-only, and processing failure are all business-as-usual outcomes
// from the caller's point of view, not webhook errors.
type webhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *Webhook) Receive(c *fiber.Ctx) error {
	var raw map[string]any
	if err := c.BodyParser(&raw); err != nil {
		return c.Status(fiber.StatusOK).JSON(webhookResponse{Success: false, Message: "malformed payload"})
	}

	rec, err := transport.Normalize(raw)
	if err != nil {
		if errors.Is(err, transport.ErrUnrecognizedShape) {
			return c.Status(fiber.StatusOK).JSON(webhookResponse{Success: false, Message: "unrecognized payload shape"})
		}
		return c.Status(fiber.StatusOK).JSON(webhookResponse{Success: false, Message: err.Error()})
	}

	if err := validateInbound(rec); err != nil {
		return c.Status(fiber.StatusOK).JSON(webhookResponse{Success: false, Message: err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()

	outcome, err := h.pipeline.HandleInbound(ctx, rec)
	if err != nil {
		logrus.WithError(err).Warnf("[Webhook] HandleInbound failed for %s", rec.MessageID)
		return c.Status(fiber.StatusOK).JSON(webhookResponse{Success: true, Message: "processing error"})
	}

	return c.Status(fiber.StatusOK).JSON(webhookResponse{Success: true, Message: outcomeMessage(outcome)})
}

// outcomeMessage maps an InboundOutcome onto the literal response message
// the spec names for it (S2's duplicate ignore, S6's record-only); every
// other outcome shares the generic "accepted" acknowledgement.
func outcomeMessage(outcome pipeline.InboundOutcome) string {
	switch outcome {
	case pipeline.OutcomeDuplicate:
		return "Duplicate message ignored"
	case pipeline.OutcomeRecordOnly:
		return "Message recorded to history only"
	default:
		return "accepted"
	}
}

// validateInbound rejects a normalized record transport.Normalize
// accepted but that is still missing fields the rest of the pipeline
// requires, grounded on validations/newsletter_validation.go's
// ValidateStructWithContext + pkgError.ValidationError shape.
func validateInbound(rec domain.InboundRecord) error {
	return validation.ValidateStruct(&rec,
		validation.Field(&rec.MessageID, validation.Required),
		validation.Field(&rec.ChatID, validation.Required),
		validation.Field(&rec.Source, validation.Required),
		validation.Field(&rec.MessageType, validation.Required),
	)
}
