package handler

import (
	"context"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/eaf/backend/internal/infrastructure/eventstore"
	"github.com/eaf/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// EventReader is the read side of the storage engine
type EventReader interface {
	CreateHeadToken(ctx context.Context) domain.GlobalSequenceTrackingToken
	ReadTrackedEvents(ctx context.Context, token *domain.GlobalSequenceTrackingToken, mayBlock bool) (*eventstore.TrackingEventStream, error)
	ReadEvents(ctx context.Context, aggregateID string, firstSequenceNumber int64) (*eventstore.DomainEventStream, error)
	ReadEventsInRange(ctx context.Context, aggregateID string, from, to int64) (*eventstore.DomainEventStream, error)
}

// EventHandler exposes the event streams of the caller's tenant
type EventHandler struct {
	BaseHandler
	reader EventReader
}

// NewEventHandler creates an event handler
func NewEventHandler(reader EventReader) *EventHandler {
	return &EventHandler{reader: reader}
}

// RegisterRoutes mounts the event routes on an API group
func (h *EventHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/events/head", h.Head)
	rg.GET("/events", h.ListAfter)
	rg.GET("/aggregates/:id/events", h.ListAggregate)
}

// Head godoc
// @Summary      Head token of the tenant stream
// @Tags         events
// @Produce      json
// @Param        X-Tenant-ID  header  string  true  "Tenant"
// @Success      200  {object}  dto.Response{data=dto.TokenResponse}
// @Router       /events/head [get]
func (h *EventHandler) Head(c *gin.Context) {
	token := h.reader.CreateHeadToken(c.Request.Context())
	h.Success(c, dto.TokenResponse{GlobalSequence: token.GlobalSequence})
}

// ListAfter godoc
// @Summary      Events of the tenant stream after a token
// @Tags         events
// @Produce      json
// @Param        X-Tenant-ID  header  string  true   "Tenant"
// @Param        after        query   int     false  "Global sequence to resume after"
// @Success      200  {object}  dto.Response{data=[]dto.EventResponse,meta=dto.Meta}
// @Router       /events [get]
func (h *EventHandler) ListAfter(c *gin.Context) {
	var req dto.EventsAfterRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	token := domain.NewTrackingToken(req.After)
	stream, err := h.reader.ReadTrackedEvents(c.Request.Context(), &token, false)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	defer stream.Close()

	events := make([]dto.EventResponse, 0, stream.Len())
	for msg := range stream.All() {
		events = append(events, dto.FromTrackedEvent(msg))
	}
	h.SuccessWithMeta(c, events, len(events), stream.Token().GlobalSequence)
}

// ListAggregate godoc
// @Summary      Events of one aggregate
// @Tags         events
// @Produce      json
// @Param        X-Tenant-ID  header  string  true   "Tenant"
// @Param        id           path    string  true   "Aggregate ID"
// @Param        from         query   int     false  "First sequence number"
// @Param        to           query   int     false  "Last sequence number, inclusive"
// @Success      200  {object}  dto.Response{data=[]dto.EventResponse}
// @Router       /aggregates/{id}/events [get]
func (h *EventHandler) ListAggregate(c *gin.Context) {
	var req dto.AggregateEventsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	if req.To != nil && *req.To < req.From {
		h.BadRequest(c, "to must not be before from")
		return
	}

	ctx := c.Request.Context()
	var (
		stream *eventstore.DomainEventStream
		err    error
	)
	if req.To != nil {
		stream, err = h.reader.ReadEventsInRange(ctx, c.Param("id"), req.From, *req.To)
	} else {
		stream, err = h.reader.ReadEvents(ctx, c.Param("id"), req.From)
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}

	events := make([]dto.EventResponse, 0, stream.Remaining())
	for msg := range stream.All() {
		events = append(events, dto.FromDomainEvent(msg))
	}
	h.Success(c, events)
}
