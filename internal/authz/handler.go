package authz

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helios-portal/helios/internal/platform/httpx"
	"github.com/helios-portal/helios/internal/shared"
)

// Handler exposes the decision functions and the grant administration API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	guard    Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		guard:    guard,
	}
}

// MountRoutes registers authz routes.
func (h *Handler) MountRoutes(r chi.Router) {
	// Decision reads for the current principal.
	r.Get("/can", h.can)
	r.Get("/menu", h.menuTree)
	r.Get("/content/{contentID}/can", h.canContent)

	// Grant administration.
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermGrantsEdit))
		r.Post("/users/{userID}/roles/{roleID}", h.assignRole)
		r.Delete("/users/{userID}/roles/{roleID}", h.revokeRole)
		r.Post("/roles/{roleID}/permissions/{permissionID}", h.grantPermission)
		r.Delete("/roles/{roleID}/permissions/{permissionID}", h.revokePermission)
		r.Post("/roles/{roleID}/menus/{menuID}", h.grantMenu)
		r.Delete("/roles/{roleID}/menus/{menuID}", h.revokeMenu)
		r.Post("/roles/{roleID}/contents/{contentID}", h.grantContent)
		r.Delete("/roles/{roleID}/contents/{contentID}", h.revokeContent)
	})
}

type grantRequest struct {
	StartsAt  *time.Time `json:"starts_at"`
	ExpiresAt *time.Time `json:"expires_at"`
	Priority  int        `json:"priority"`
	Polarity  string     `json:"polarity" validate:"omitempty,oneof=grant deny"`
	Primary   bool       `json:"primary"`
}

func (h *Handler) can(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	permission := r.URL.Query().Get("permission")
	if permission == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "permission query parameter required")
		return
	}
	allowed, err := h.service.Can(r.Context(), principal.UserID, permission, time.Time{})
	if err != nil {
		h.logger.Error("authz can", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permission": permission, "allowed": allowed})
}

func (h *Handler) menuTree(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	tree, err := h.service.VisibleMenuTree(r.Context(), principal.UserID, time.Time{})
	if err != nil {
		h.logger.Error("authz menu tree", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"menu": tree})
}

func (h *Handler) canContent(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	contentID, err := pathID(r, "contentID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid content id")
		return
	}
	allowed, err := h.service.CanAccessContent(r.Context(), principal.UserID, contentID, time.Time{})
	if err != nil {
		h.logger.Error("authz can content", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"content_id": contentID, "allowed": allowed})
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	req, actor, userID, roleID, ok := h.grantArgs(w, r, "userID", "roleID")
	if !ok {
		return
	}
	id, err := h.service.AssignRole(r.Context(), userID, roleID, Window{StartsAt: req.StartsAt, ExpiresAt: req.ExpiresAt}, req.Priority, req.Primary, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grant_id": id})
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	h.revoke(w, r, KindUserRole, "userID", "roleID")
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	h.grant(w, r, "permissionID", h.service.GrantPermission)
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	h.revoke(w, r, KindRolePermission, "roleID", "permissionID")
}

func (h *Handler) grantMenu(w http.ResponseWriter, r *http.Request) {
	h.grant(w, r, "menuID", h.service.GrantMenu)
}

func (h *Handler) revokeMenu(w http.ResponseWriter, r *http.Request) {
	h.revoke(w, r, KindRoleMenu, "roleID", "menuID")
}

func (h *Handler) grantContent(w http.ResponseWriter, r *http.Request) {
	h.grant(w, r, "contentID", h.service.GrantContent)
}

func (h *Handler) revokeContent(w http.ResponseWriter, r *http.Request) {
	h.revoke(w, r, KindRoleContent, "roleID", "contentID")
}

type grantFunc func(ctx context.Context, roleID, targetID int64, window Window, priority int, polarity Polarity, actorID int64) (int64, error)

func (h *Handler) grant(w http.ResponseWriter, r *http.Request, targetParam string, fn grantFunc) {
	req, actor, roleID, targetID, ok := h.grantArgs(w, r, "roleID", targetParam)
	if !ok {
		return
	}
	polarity := PolarityGrant
	if req.Polarity == string(PolarityDeny) {
		polarity = PolarityDeny
	}
	id, err := fn(r.Context(), roleID, targetID, Window{StartsAt: req.StartsAt, ExpiresAt: req.ExpiresAt}, req.Priority, polarity, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grant_id": id})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request, kind RelationKind, subjectParam, targetParam string) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	subjectID, err := pathID(r, subjectParam)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	targetID, err := pathID(r, targetParam)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	if err := h.service.registry.Revoke(r.Context(), kind, subjectID, targetID, principal.UserID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"revoked": true})
}

// grantArgs decodes and validates the shared pieces of every grant request.
func (h *Handler) grantArgs(w http.ResponseWriter, r *http.Request, subjectParam, targetParam string) (grantRequest, int64, int64, int64, bool) {
	var req grantRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
			return req, 0, 0, 0, false
		}
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return req, 0, 0, 0, false
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	subjectID, err := pathID(r, subjectParam)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return req, 0, 0, 0, false
	}
	targetID, err := pathID(r, targetParam)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return req, 0, 0, 0, false
	}
	return req, principal.UserID, subjectID, targetID, true
}

func pathID(r *http.Request, param string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, param), 10, 64)
}
