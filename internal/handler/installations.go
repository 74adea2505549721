package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"ssepush-lite/internal/hub"
	"ssepush-lite/internal/localstore"
	"ssepush-lite/internal/model"
	"ssepush-lite/internal/store"
)

var validate = validator.New()

type InstallationHandler struct {
	Store *store.Store
	Hub   *hub.Hub
}

type installationFields struct {
	DeviceToken    string   `validate:"required"`
	PushType       string   `validate:"omitempty,eq=sse"`
	Channels       []string `validate:"required"`
	AllowedSenders []string `validate:"required"`
}

func (h *InstallationHandler) Create(c *gin.Context) {
	body, ok := bindObject(c)
	if !ok {
		return
	}
	inst, ok := decodeInstallation(c, body)
	if !ok {
		return
	}

	saved, created, err := h.Store.Create(inst, time.Now().UnixMilli())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, installationResponse(saved))
}

func (h *InstallationHandler) Get(c *gin.Context) {
	inst, ok := h.Store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Installation not found"})
		return
	}
	c.JSON(http.StatusOK, installationResponse(inst))
}

// Update handles both a {"$full_update": {...}} replacement and a partial
// field merge.
func (h *InstallationHandler) Update(c *gin.Context) {
	body, ok := bindObject(c)
	if !ok {
		return
	}

	id := c.Param("id")
	now := time.Now().UnixMilli()
	var (
		saved *model.Installation
		err   error
	)
	if raw, full := body[model.KeyFullUpdate]; full {
		fields, isObject := raw.(map[string]any)
		if !isObject {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		inst, ok := decodeInstallation(c, fields)
		if !ok {
			return
		}
		saved, err = h.Store.Replace(id, inst, now)
	} else {
		saved, err = h.Store.Merge(id, body, now)
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Installation not found"})
	case errors.Is(err, store.ErrDeviceTokenConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, installationResponse(saved))
	}
}

func (h *InstallationHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if !h.Store.Delete(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Installation not found"})
		return
	}
	if h.Hub != nil {
		h.Hub.Disconnect(id)
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (h *InstallationHandler) List(c *gin.Context) {
	list := h.Store.List()
	results := make([]map[string]any, 0, len(list))
	for _, inst := range list {
		results = append(results, installationResponse(inst))
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func bindObject(c *gin.Context) (map[string]any, bool) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil || body == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return nil, false
	}
	return body, true
}

func decodeInstallation(c *gin.Context, fields map[string]any) (*model.Installation, bool) {
	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		if !store.ServerOwned(k) {
			clean[k] = v
		}
	}
	inst := model.Decode(localstore.Partition(clean))

	if err := validate.Struct(installationFields{
		DeviceToken:    inst.DeviceToken,
		PushType:       inst.PushType,
		Channels:       inst.Channels,
		AllowedSenders: inst.AllowedSenders,
	}); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid fields", "detail": err.Error()})
		return nil, false
	}
	return inst, true
}

// installationResponse is the flattened wire form. Owner is always present,
// null when anonymous.
func installationResponse(inst *model.Installation) map[string]any {
	p := inst.Payload()
	if _, ok := p[model.KeyOwner]; !ok {
		p[model.KeyOwner] = nil
	}
	return p
}
