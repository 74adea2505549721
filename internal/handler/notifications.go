package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ssepush-lite/internal/hub"
	"ssepush-lite/internal/model"
	"ssepush-lite/internal/store"
)

type NotificationHandler struct {
	Store *store.Store
	Hub   *hub.Hub
}

type sendNotificationBody struct {
	Channels []string `json:"channels" binding:"required,min=1"`
	Message  string   `json:"message" binding:"required"`
	Event    string   `json:"event"`
}

// Send pushes a message to every connected installation subscribed to one of
// the channels.
func (h *NotificationHandler) Send(c *gin.Context) {
	var body sendNotificationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	msg := model.Message{ID: uuid.NewString(), Event: body.Event, Data: body.Message}
	if msg.Event == "" {
		msg.Event = model.DefaultEventType
	}

	ids := h.Store.SubscribedTo(body.Channels)
	delivered := 0
	for _, id := range ids {
		delivered += h.Hub.Send(id, msg)
	}

	c.JSON(http.StatusOK, gin.H{
		"id":            msg.ID,
		"installations": len(ids),
		"delivered":     delivered,
	})
}
