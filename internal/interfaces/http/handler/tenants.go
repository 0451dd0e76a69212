package handler

import (
	"context"

	"github.com/eaf/backend/internal/application/command"
	"github.com/eaf/backend/internal/application/tenancy"
	"github.com/eaf/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// Dispatcher sends commands to their handlers
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd *command.Command) (any, error)
}

// CreateTenantRequest is the body of POST /tenants
type CreateTenantRequest struct {
	TenantID string `json:"tenantId" binding:"required,max=64"`
	Name     string `json:"name" binding:"required,max=200"`
}

// RenameTenantRequest is the body of PUT /tenants/:id/name
type RenameTenantRequest struct {
	Name   string `json:"name" binding:"required,max=200"`
	Reason string `json:"reason"`
}

// SuspendTenantRequest is the body of POST /tenants/:id/suspend
type SuspendTenantRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// TenantHandler turns tenant lifecycle requests into commands. The commands
// run in the tenant of the caller, which owns the tenant aggregates.
type TenantHandler struct {
	BaseHandler
	commands Dispatcher
}

// NewTenantHandler creates a tenant handler
func NewTenantHandler(commands Dispatcher) *TenantHandler {
	return &TenantHandler{commands: commands}
}

// RegisterRoutes mounts the tenant routes on an API group
func (h *TenantHandler) RegisterRoutes(rg *gin.RouterGroup) {
	tenants := rg.Group("/tenants")
	tenants.POST("", h.Create)
	tenants.PUT("/:id/name", h.Rename)
	tenants.POST("/:id/suspend", h.Suspend)
	tenants.POST("/:id/reactivate", h.Reactivate)
}

func (h *TenantHandler) dispatch(c *gin.Context, name string, payload any) (any, bool) {
	cmd := command.New(name, payload).WithTenant(middleware.GetTenantID(c))
	result, err := h.commands.Dispatch(c.Request.Context(), cmd)
	if err != nil {
		h.HandleError(c, err)
		return nil, false
	}
	return result, true
}

// Create godoc
// @Summary      Create a tenant
// @Tags         tenants
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID  header  string               true  "Owning tenant"
// @Param        request      body    CreateTenantRequest  true  "Tenant"
// @Success      201  {object}  dto.Response{data=tenancy.TenantResponse}
// @Failure      409  {object}  dto.Response
// @Router       /tenants [post]
func (h *TenantHandler) Create(c *gin.Context) {
	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	if result, ok := h.dispatch(c, tenancy.CommandCreateTenant, tenancy.CreateTenant{TenantID: req.TenantID, Name: req.Name}); ok {
		h.Created(c, result)
	}
}

// Rename godoc
// @Summary      Rename a tenant
// @Tags         tenants
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID  header  string               true  "Owning tenant"
// @Param        id           path    string               true  "Tenant ID"
// @Param        request      body    RenameTenantRequest  true  "New name"
// @Success      200  {object}  dto.Response{data=tenancy.TenantResponse}
// @Router       /tenants/{id}/name [put]
func (h *TenantHandler) Rename(c *gin.Context) {
	var req RenameTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	payload := tenancy.RenameTenant{TenantID: c.Param("id"), Name: req.Name, Reason: req.Reason}
	if result, ok := h.dispatch(c, tenancy.CommandRenameTenant, payload); ok {
		h.Success(c, result)
	}
}

// Suspend godoc
// @Summary      Suspend a tenant
// @Tags         tenants
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID  header  string                true  "Owning tenant"
// @Param        id           path    string                true  "Tenant ID"
// @Param        request      body    SuspendTenantRequest  true  "Reason"
// @Success      200  {object}  dto.Response{data=tenancy.TenantResponse}
// @Failure      422  {object}  dto.Response
// @Router       /tenants/{id}/suspend [post]
func (h *TenantHandler) Suspend(c *gin.Context) {
	var req SuspendTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	payload := tenancy.SuspendTenant{TenantID: c.Param("id"), Reason: req.Reason}
	if result, ok := h.dispatch(c, tenancy.CommandSuspendTenant, payload); ok {
		h.Success(c, result)
	}
}

// Reactivate godoc
// @Summary      Reactivate a suspended tenant
// @Tags         tenants
// @Produce      json
// @Param        X-Tenant-ID  header  string  true  "Owning tenant"
// @Param        id           path    string  true  "Tenant ID"
// @Success      200  {object}  dto.Response{data=tenancy.TenantResponse}
// @Router       /tenants/{id}/reactivate [post]
func (h *TenantHandler) Reactivate(c *gin.Context) {
	if result, ok := h.dispatch(c, tenancy.CommandReactivateTenant, tenancy.ReactivateTenant{TenantID: c.Param("id")}); ok {
		h.Success(c, result)
	}
}
