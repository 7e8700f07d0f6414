package roles

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helios-portal/helios/internal/authz"
	"github.com/helios-portal/helios/internal/platform/httpx"
	"github.com/helios-portal/helios/internal/shared"
)

// Handler manages role management endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	guard    authz.Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), guard: guard}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermRolesView))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermRolesEdit))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

type roleRequest struct {
	Name               string `json:"name" validate:"required"`
	Description        string `json:"description"`
	IsActive           bool   `json:"is_active"`
	Priority           int    `json:"priority"`
	ParentID           *int64 `json:"parent_id"`
	InheritPermissions bool   `json:"inherit_permissions"`
}

type roleResponse struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Description        string `json:"description"`
	IsActive           bool   `json:"is_active"`
	IsSystem           bool   `json:"is_system"`
	Priority           int    `json:"priority"`
	ParentID           *int64 `json:"parent_id,omitempty"`
	InheritPermissions bool   `json:"inherit_permissions"`
}

func toResponse(role Role) roleResponse {
	return roleResponse{
		ID:                 role.ID,
		Name:               role.Name,
		Description:        role.Description,
		IsActive:           role.IsActive,
		IsSystem:           role.IsSystem,
		Priority:           role.Priority,
		ParentID:           role.ParentID,
		InheritPermissions: role.InheritPermissions,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]roleResponse, 0, len(list))
	for _, role := range list {
		out = append(out, toResponse(role))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(role))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := h.decode(w, r)
	if !ok {
		return
	}
	role, err := h.service.CreateRole(r.Context(), Role{
		Name:               req.Name,
		Description:        req.Description,
		IsActive:           req.IsActive,
		Priority:           req.Priority,
		ParentID:           req.ParentID,
		InheritPermissions: req.InheritPermissions,
	}, actor)
	if err != nil {
		h.logger.Error("create role", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(role))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	req, actor, ok := h.decode(w, r)
	if !ok {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), Role{
		ID:                 id,
		Name:               req.Name,
		Description:        req.Description,
		IsActive:           req.IsActive,
		Priority:           req.Priority,
		ParentID:           req.ParentID,
		InheritPermissions: req.InheritPermissions,
	}, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(role))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (roleRequest, int64, bool) {
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return req, 0, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return req, 0, false
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	return req, principal.UserID, true
}
