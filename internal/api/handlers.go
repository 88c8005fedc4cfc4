// Package api implements the HTTP surface: room listing and deletion,
// snapshot CRUD, autosave upsert, and room settings.
package api

import (
	"net/http"

	"github.com/collab-docs/roomserver/internal/apperr"
	"github.com/collab-docs/roomserver/internal/collab"
	"github.com/collab-docs/roomserver/internal/logger"
	"github.com/collab-docs/roomserver/internal/models"
	"github.com/collab-docs/roomserver/internal/storage"
	"github.com/gin-gonic/gin"
)

// Handler holds the dependencies shared by every route: the persistence
// backend and the room registry (for listing/evicting live rooms).
type Handler struct {
	store    storage.Store
	registry *collab.Registry
	log      *logger.Logger
}

// NewHandler returns a Handler backed by store and registry.
func NewHandler(store storage.Store, registry *collab.Registry, log *logger.Logger) *Handler {
	return &Handler{store: store, registry: registry, log: log}
}

// RegisterRoutes wires every endpoint onto r.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.HealthCheck)

	r.GET("/api/rooms", h.ListRooms)
	r.DELETE("/api/rooms/:roomId", h.DeleteRoom)

	r.POST("/api/rooms/:roomId/snapshots", h.CreateSnapshot)
	r.GET("/api/rooms/:roomId/snapshots", h.ListSnapshots)
	r.PUT("/api/rooms/:roomId/autosave", h.UpsertAutosave)

	r.GET("/api/snapshots/:id", h.GetSnapshot)
	r.DELETE("/api/snapshots/:id", h.DeleteSnapshot)
	r.PUT("/api/snapshots/:id", h.UpdateSnapshotMetadata)

	r.GET("/api/rooms/:roomId/settings", h.GetRoomSettings)
	r.PUT("/api/rooms/:roomId/settings", h.UpdateRoomSettings)
}

// HealthCheck returns the process health status.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListRooms returns the array form of GET /api/rooms; older clients
// expecting the map form tolerate the extra fields.
func (h *Handler) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.ListRooms())
}

// DeleteRoom evicts live memberships and purges persisted state for
// roomId. Requires body {"confirmation":"confirm"}.
func (h *Handler) DeleteRoom(c *gin.Context) {
	roomID := c.Param("roomId")

	var req models.DeleteRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Confirmation != models.DeleteRoomConfirmation {
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": "confirmation text does not match"})
		return
	}

	if err := h.store.DeleteRoom(c.Request.Context(), roomID); err != nil {
		writeErr(c, err)
		return
	}
	h.registry.EvictRoom(roomID)
	c.Status(http.StatusNoContent)
}

// CreateSnapshot creates a new (non-autosave) snapshot, enforcing the
// per-room maxSnapshots cap.
func (h *Handler) CreateSnapshot(c *gin.Context) {
	roomID := c.Param("roomId")

	var req models.CreateSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	meta := storage.SnapshotMeta{
		Name:        req.Name,
		Description: req.Description,
		Thumbnail:   req.Thumbnail,
		CreatedBy:   req.CreatedBy,
	}
	id, err := h.store.CreateSnapshot(c.Request.Context(), roomID, meta, []byte(req.Data))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// ListSnapshots returns the metadata-only listing view.
func (h *Handler) ListSnapshots(c *gin.Context) {
	roomID := c.Param("roomId")
	snapshots, err := h.store.ListSnapshots(c.Request.Context(), roomID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshots)
}

// UpsertAutosave creates or replaces the room's singleton autosave
// snapshot.
func (h *Handler) UpsertAutosave(c *gin.Context) {
	roomID := c.Param("roomId")

	var req models.CreateSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	meta := storage.SnapshotMeta{
		Name:        req.Name,
		Description: req.Description,
		Thumbnail:   req.Thumbnail,
		CreatedBy:   models.AutosaveCreatedBy,
	}
	id, err := h.store.UpsertAutosaveSnapshot(c.Request.Context(), roomID, meta, []byte(req.Data))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// GetSnapshot returns the full snapshot row including data.
func (h *Handler) GetSnapshot(c *gin.Context) {
	id := c.Param("id")
	snap, err := h.store.GetSnapshot(c.Request.Context(), id)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// DeleteSnapshot removes a snapshot row.
func (h *Handler) DeleteSnapshot(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.DeleteSnapshot(c.Request.Context(), id); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateSnapshotMetadata updates name/description in place.
func (h *Handler) UpdateSnapshotMetadata(c *gin.Context) {
	id := c.Param("id")

	var req models.UpdateSnapshotMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.UpdateSnapshotMetadata(c.Request.Context(), id, req.Name, req.Description); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetRoomSettings returns the room's settings, defaulted if absent.
func (h *Handler) GetRoomSettings(c *gin.Context) {
	roomID := c.Param("roomId")
	settings, err := h.store.GetRoomSettings(c.Request.Context(), roomID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateRoomSettings upserts maxSnapshots/autoSaveInterval, clamping
// out-of-range values to defaults.
func (h *Handler) UpdateRoomSettings(c *gin.Context) {
	roomID := c.Param("roomId")

	var req models.UpdateRoomSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.UpdateRoomSettings(c.Request.Context(), roomID, req.MaxSnapshots, req.AutoSaveInterval); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// writeErr maps an apperr.Kind to its HTTP status.
func writeErr(c *gin.Context, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindBadRequest:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperr.KindPreconditionFailed:
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
	case apperr.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
