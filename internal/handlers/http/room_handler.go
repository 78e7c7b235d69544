package http

import (
	"errors"
	"net/http"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"
	apperrors "roomsignal/pkg/errors"
	"roomsignal/pkg/validation"

	"github.com/gin-gonic/gin"
)

// RoomHandler serves the room directory. The directory is mirrored from the
// registry asynchronously, so responses may trail live membership slightly.
type RoomHandler struct {
	directory ports.RoomDirectory
}

var _ ports.HTTPHandler = (*RoomHandler)(nil)

func NewRoomHandler(directory ports.RoomDirectory) *RoomHandler {
	return &RoomHandler{directory: directory}
}

func (h *RoomHandler) SetupRoutes(group *gin.RouterGroup) {
	group.GET("/rooms", h.ListRooms)
	group.GET("/rooms/:id", h.GetRoom)
}

type roomResponse struct {
	ID          domain.RoomID         `json:"id"`
	InstanceID  string                `json:"instance_id,omitempty"`
	Members     []domain.ConnectionID `json:"members"`
	MemberCount int                   `json:"member_count"`
	CreatedAt   string                `json:"created_at"`
	UpdatedAt   string                `json:"updated_at"`
}

func toRoomResponse(r *domain.RoomRecord) roomResponse {
	members := r.Members
	if members == nil {
		members = []domain.ConnectionID{}
	}
	return roomResponse{
		ID:          r.ID,
		InstanceID:  r.InstanceID,
		Members:     members,
		MemberCount: len(members),
		CreatedAt:   r.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:   r.UpdatedAt.UTC().Format(timeLayout),
	}
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func (h *RoomHandler) ListRooms(c *gin.Context) {
	records, err := h.directory.List(c.Request.Context())
	if err != nil {
		_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, "room directory unavailable", http.StatusServiceUnavailable))
		return
	}

	rooms := make([]roomResponse, 0, len(records))
	for _, r := range records {
		rooms = append(rooms, toRoomResponse(r))
	}
	c.JSON(http.StatusOK, gin.H{
		"rooms": rooms,
		"count": len(rooms),
	})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := c.Param("id")
	if err := validation.ValidateRoomID(roomID); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	record, err := h.directory.Get(c.Request.Context(), domain.RoomID(roomID))
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			_ = c.Error(apperrors.NewNotFoundError("room").WithContext("room_id", roomID))
			return
		}
		_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, "room directory unavailable", http.StatusServiceUnavailable))
		return
	}

	c.JSON(http.StatusOK, toRoomResponse(record))
}
