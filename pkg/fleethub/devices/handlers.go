package devices

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jmcentee/fleethub/pkg/fleethub/apperr"
	"github.com/jmcentee/fleethub/pkg/fleethub/auth"
	"github.com/jmcentee/fleethub/pkg/fleethub/httpx"
	"github.com/jmcentee/fleethub/pkg/fleethub/models"
)

// Handler handles device-related requests
type Handler struct {
	service *Service
}

// NewHandler creates a new devices handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CreateDeviceRequest represents the request to create a device
type CreateDeviceRequest struct {
	DeviceCode  string `json:"device_code" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Type        string `json:"type" binding:"required"`
	MACAddress  string `json:"mac_address" binding:"required"`
	Location    string `json:"location" binding:"required"`
	Status      string `json:"status" binding:"omitempty,oneof=active inactive maintenance"`
	TriggerTime int    `json:"trigger_time"`
}

// BulkImportRequest represents the bulk import request body. Records
// are validated by the service so a single bad record can be reported
// by index instead of failing the whole bind.
type BulkImportRequest struct {
	Devices []BulkDeviceRecord `json:"devices" binding:"required"`
}

// BulkDeviceRecord is one record of a bulk import batch
type BulkDeviceRecord struct {
	DeviceCode  string `json:"device_code"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	MACAddress  string `json:"mac_address"`
	Location    string `json:"location"`
	Status      string `json:"status"`
	TriggerTime int    `json:"trigger_time"`
}

// UpdateDeviceRequest represents the request to update a device.
// Ownership is not updatable here; it moves through assignments only.
type UpdateDeviceRequest struct {
	Name        *string `json:"name"`
	Type        *string `json:"type"`
	Location    *string `json:"location"`
	Status      *string `json:"status" binding:"omitempty,oneof=active inactive maintenance"`
	TriggerTime *int    `json:"trigger_time"`
}

// AddReadingRequest represents a telemetry sample submission. Zero is a
// legitimate sample value, so no required binding on the fields.
type AddReadingRequest struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

func (r BulkDeviceRecord) toParams() CreateDeviceParams {
	return CreateDeviceParams{
		DeviceCode:  r.DeviceCode,
		Name:        r.Name,
		Type:        r.Type,
		MACAddress:  r.MACAddress,
		Location:    r.Location,
		Status:      models.DeviceStatus(r.Status),
		TriggerTime: r.TriggerTime,
	}
}

func parseID(c *gin.Context, param string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 32)
	if err != nil {
		httpx.Error(c, apperr.Validation("invalid device ID", c.Param(param)))
		return 0, false
	}
	return uint(id), true
}

// List returns all devices (admin only)
// @Summary List devices
// @Tags devices
// @Produce json
// @Success 200 {array} models.Device
// @Security BearerAuth
// @Router /devices [get]
func (h *Handler) List(c *gin.Context) {
	filter := ListFilter{
		Status:     models.DeviceStatus(c.Query("status")),
		Type:       c.Query("type"),
		Unassigned: c.Query("unassigned") == "true",
	}
	devices, err := h.service.List(filter)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, devices)
}

// MyDevices returns the devices assigned to the caller
func (h *Handler) MyDevices(c *gin.Context) {
	principal, _ := auth.GetPrincipal(c)
	devices, err := h.service.ListByOwner(principal.UserID)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, devices)
}

// Get returns a device by ID
func (h *Handler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	device, err := h.service.Get(id)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// Create creates a new device (admin only)
// @Summary Create device
// @Tags devices
// @Accept json
// @Produce json
// @Param request body CreateDeviceRequest true "Device details"
// @Success 201 {object} models.Device
// @Failure 400 {object} httpx.ErrorResponse "Validation error"
// @Failure 409 {object} httpx.ErrorResponse "Duplicate device code or MAC"
// @Security BearerAuth
// @Router /devices [post]
func (h *Handler) Create(c *gin.Context) {
	var req CreateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, apperr.Validation(err.Error()))
		return
	}

	device, err := h.service.Create(CreateDeviceParams{
		DeviceCode:  req.DeviceCode,
		Name:        req.Name,
		Type:        req.Type,
		MACAddress:  req.MACAddress,
		Location:    req.Location,
		Status:      models.DeviceStatus(req.Status),
		TriggerTime: req.TriggerTime,
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, device)
}

// BulkImport imports a batch of devices, all or nothing (admin only)
// @Summary Bulk import devices
// @Description Validate every record, then write the whole batch in one transaction
// @Tags devices
// @Accept json
// @Produce json
// @Param request body BulkImportRequest true "Devices to import"
// @Success 201 {array} models.Device
// @Failure 400 {object} httpx.ErrorResponse "Validation failed, invalid indexes listed"
// @Failure 409 {object} httpx.ErrorResponse "Conflicting device codes listed"
// @Security BearerAuth
// @Router /devices/bulk-import [post]
func (h *Handler) BulkImport(c *gin.Context) {
	var req BulkImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, apperr.Validation(err.Error()))
		return
	}

	batch := make([]CreateDeviceParams, len(req.Devices))
	for i, record := range req.Devices {
		batch[i] = record.toParams()
	}

	created, err := h.service.BulkImport(batch)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "devices imported",
		"count":   len(created),
		"devices": created,
	})
}

// Update updates a device's descriptive fields (admin only)
func (h *Handler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req UpdateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, apperr.Validation(err.Error()))
		return
	}

	params := UpdateDeviceParams{
		Name:        req.Name,
		Type:        req.Type,
		Location:    req.Location,
		TriggerTime: req.TriggerTime,
	}
	if req.Status != nil {
		status := models.DeviceStatus(*req.Status)
		params.Status = &status
	}

	device, err := h.service.Update(id, params)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// Delete removes a device (admin only)
func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(id); err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Device deleted successfully"})
}

// AddReading appends a telemetry sample to a device
func (h *Handler) AddReading(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req AddReadingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, apperr.Validation(err.Error()))
		return
	}

	device, err := h.service.AddReading(id, req.Temperature, req.Humidity)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// GetReadings returns a device's latest readings, most recent first
func (h *Handler) GetReadings(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	readings, err := h.service.LatestReadings(id, limit)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, readings)
}

// RegisterRoutes registers device routes on the given router group.
// The admin parameter guards fleet-wide operations; readings and lookup
// stay available to any authenticated user.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, admin gin.HandlerFunc) {
	rg.GET("", admin, h.List)
	rg.POST("", admin, h.Create)
	rg.POST("/bulk-import", admin, h.BulkImport)
	rg.GET("/my-devices", h.MyDevices)
	rg.GET("/:id", h.Get)
	rg.PUT("/:id", admin, h.Update)
	rg.DELETE("/:id", admin, h.Delete)
	rg.POST("/:id/readings", h.AddReading)
	rg.GET("/:id/readings", h.GetReadings)
}
