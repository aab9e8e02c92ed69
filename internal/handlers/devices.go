package handlers

import (
	"errors"
	"net/http"

	fc "facility_console"
	"facility_console/internal/gateway"
	"facility_console/internal/repository"
	"facility_console/internal/scheduler"

	"github.com/gin-gonic/gin"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK       = "ok"
	statusAccepted = "accepted"

	errListDevices  = "failed to list devices"
	errGetDevice    = "failed to load device"
	errDeviceAbsent = "device not found"

	errInvalidBodyPref = "invalid body: "
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// commandStatus maps typed scheduler/gateway errors to HTTP status codes.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrAlreadyRepairing),
		errors.Is(err, scheduler.ErrRepairInProgress),
		errors.Is(err, scheduler.ErrRepairNotNeeded),
		errors.Is(err, scheduler.ErrDeviceDisqualified):
		return http.StatusConflict
	}
	switch gateway.KindOf(err) {
	case gateway.KindNotFound:
		return http.StatusNotFound
	case gateway.KindValidationFailed:
		return http.StatusBadRequest
	case gateway.KindUnauthorized:
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

// respondAccepted replies with the post-command device state when available.
func (h *Handler) respondAccepted(c *gin.Context, deviceID string, extra gin.H) {
	resp := gin.H{"status": statusAccepted}
	for k, v := range extra {
		resp[k] = v
	}
	if d, ok := h.services.Control.Device(deviceID); ok {
		resp["device"] = d
	}
	c.JSON(http.StatusOK, resp)
}

// Request DTOs for operator commands.
type setTargetRequest struct {
	Value float64 `json:"value" binding:"required"`
}

type setPowerRequest struct {
	Power string `json:"power" binding:"required"` // on | off
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      List devices
// @Tags         devices
// @Produce      json
// @Param        scope  query  string  false  "Administrative scope"
// @Success      200  {object}  map[string]interface{}  "count, devices"
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/devices [get]
// @Security     BearerAuth
func (h *Handler) listDevices(c *gin.Context) {
	ctx := c.Request.Context()
	devices, err := h.services.Devices.List(ctx, c.Query("scope"))
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errListDevices, "devices_list_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(devices),
		"devices": devices,
	})
}

// @Summary      Get device
// @Tags         devices
// @Produce      json
// @Param        id  path  string  true  "Device id"
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/devices/{id} [get]
// @Security     BearerAuth
func (h *Handler) getDevice(c *gin.Context) {
	ctx := c.Request.Context()
	d, err := h.services.Devices.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errDeviceAbsent})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, errGetDevice, "device_get_failed", err, "id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, d)
}

// @Summary      Register device
// @Tags         devices
// @Accept       json
// @Produce      json
// @Param        body  body  facility_console.Device  true  "Device record"
// @Success      201  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/devices [post]
// @Security     BearerAuth
func (h *Handler) registerDevice(c *gin.Context) {
	var d fc.Device
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	ctx := c.Request.Context()
	saved, err := h.services.Devices.Register(ctx, d)
	if err != nil {
		if h.log != nil {
			h.log.Infow("device_register_rejected", "id", d.ID, "err", err)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, saved)
}

// @Summary      Patch device
// @Description  Partial update through the persistence gateway; target values are range-checked server-side.
// @Tags         devices
// @Accept       json
// @Produce      json
// @Param        id    path  string                        true  "Device id"
// @Param        body  body  facility_console.DevicePatch  true  "Fields to update"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/devices/{id} [patch]
// @Security     BearerAuth
func (h *Handler) patchDevice(c *gin.Context) {
	var p fc.DevicePatch
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	if p.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty patch"})
		return
	}
	ctx := c.Request.Context()
	d, err := h.services.Devices.Patch(ctx, c.Param("id"), p)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("device_patch_failed", "err", err, "id", c.Param("id"))
		}
		c.JSON(commandStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, d)
}

// @Summary      Start repair
// @Description  Creates a repair session for a disqualified device; progress advances on the scheduler tick.
// @Tags         devices
// @Produce      json
// @Param        id  path  string  true  "Device id"
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/devices/{id}/repair [post]
// @Security     BearerAuth
func (h *Handler) repairDevice(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.services.Control.Repair(ctx, id); err != nil {
		if h.log != nil {
			h.log.Infow("device_repair_rejected", "id", id, "err", err)
		}
		c.JSON(commandStatus(err), gin.H{"error": err.Error()})
		return
	}
	status, _ := h.services.Control.RepairStatus(id)
	h.respondAccepted(c, id, gin.H{"repair": status})
}

// @Summary      Repair status
// @Tags         devices
// @Produce      json
// @Param        id  path  string  true  "Device id"
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/devices/{id}/repair [get]
// @Security     BearerAuth
func (h *Handler) repairStatus(c *gin.Context) {
	id := c.Param("id")
	status, ok := h.services.Control.RepairStatus(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no repair in progress"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// @Summary      Set target value
// @Description  Writes a new setpoint through the gateway immediately; out-of-range values are rejected.
// @Tags         devices
// @Accept       json
// @Produce      json
// @Param        id    path  string            true  "Device id"
// @Param        body  body  setTargetRequest  true  "Target payload"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/devices/{id}/target [post]
// @Security     BearerAuth
func (h *Handler) setTarget(c *gin.Context) {
	var req setTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.services.Control.SetTarget(ctx, id, req.Value); err != nil {
		if h.log != nil {
			h.log.Infow("device_set_target_rejected", "id", id, "value", req.Value, "err", err)
		}
		c.JSON(commandStatus(err), gin.H{"error": err.Error()})
		return
	}
	h.respondAccepted(c, id, gin.H{"target": req.Value})
}

// @Summary      Set power
// @Description  Switches a device on or off; powering on a disqualified device is rejected.
// @Tags         devices
// @Accept       json
// @Produce      json
// @Param        id    path  string           true  "Device id"
// @Param        body  body  setPowerRequest  true  "Power payload"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/devices/{id}/power [post]
// @Security     BearerAuth
func (h *Handler) setPower(c *gin.Context) {
	var req setPowerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	power := fc.PowerState(req.Power)
	if power != fc.PowerOn && power != fc.PowerOff {
		c.JSON(http.StatusBadRequest, gin.H{"error": "power must be \"on\" or \"off\""})
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.services.Control.SetPower(ctx, id, power); err != nil {
		if h.log != nil {
			h.log.Infow("device_set_power_rejected", "id", id, "power", power, "err", err)
		}
		c.JSON(commandStatus(err), gin.H{"error": err.Error()})
		return
	}
	h.respondAccepted(c, id, gin.H{"power": power})
}
