package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/altverseweb3/backend/internal/middleware"
	"github.com/altverseweb3/backend/internal/models"
	"github.com/altverseweb3/backend/internal/service"
	"github.com/gin-gonic/gin"
)

var (
	recordedMessages = map[models.EventType]string{
		models.EventSwap:     "Swap event processed successfully",
		models.EventLending:  "Lending event processed successfully",
		models.EventEarn:     "Earn event processed successfully",
		models.EventEntrance: "Entrance recorded successfully",
	}
	failedMessages = map[models.EventType]string{
		models.EventSwap:     "Could not process swap transaction",
		models.EventLending:  "Could not process lending transaction",
		models.EventEarn:     "Could not process earn transaction",
		models.EventEntrance: "Could not record entrance event",
	}
)

type MetricsHandler struct {
	service *service.MetricsService
}

func NewMetricsHandler(service *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{service: service}
}

type eventRequest struct {
	EventType string                 `json:"eventType"`
	Payload   map[string]interface{} `json:"payload"`
}

// Handles POST /metrics
func (h *MetricsHandler) Record(c *gin.Context) {
	var req eventRequest
	if err := decodeBody(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	if req.EventType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body must include 'eventType'"})
		return
	}

	eventType := models.EventType(req.EventType)
	err := h.service.Record(c.Request.Context(), eventType, req.Payload, middleware.ClientID(c))

	var validation *service.ValidationError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": recordedMessages[eventType]})
	case errors.Is(err, service.ErrUnknownEventType):
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown eventType: '%s'", req.EventType)})
	case errors.As(err, &validation):
		body := gin.H{"error": validation.Error()}
		if len(validation.Missing) > 0 {
			body["missing_fields"] = validation.Missing
		}
		c.JSON(http.StatusBadRequest, body)
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": failedMessages[eventType]})
	}
}

// Decodes a JSON object body keeping numbers as json.Number. An empty body
// decodes as {}.
func decodeBody(c *gin.Context, dst interface{}) error {
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()

	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
