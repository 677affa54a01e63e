package hertzapi

import (
	"context"
	"errors"

	"github.com/RanFeng/ilog"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"vidsync/internal/hertzws"
	"vidsync/internal/rooms"
	"vidsync/internal/store"
)

// NewRouter wires the room API and WebSocket routes onto a hertz server.
func NewRouter(h *server.Hertz, roomManager *rooms.Manager) *server.Hertz {
	wsHandler := hertzws.NewHandler(roomManager)

	h.Use(recoveryMiddleware())

	h.GET("/healthz", func(c context.Context, ctx *app.RequestContext) {
		ctx.String(consts.StatusOK, "ok")
	})

	api := h.Group("/api")
	{
		api.POST("/rooms", handleCreateRoom(roomManager))
		roomsGroup := api.Group("/rooms")
		{
			roomsGroup.POST("/:roomId/join", handleJoinRoom(roomManager))
			roomsGroup.GET("/:roomId", handleGetRoom(roomManager))
		}
	}

	h.GET("/ws/rooms/:roomId", wsHandler.HandleWebSocket)

	return h
}

func recoveryMiddleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				ctx.String(consts.StatusInternalServerError, "Internal Server Error")
			}
		}()
		ctx.Next(c)
	}
}

func handleCreateRoom(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		var payload createRoomRequest
		if err := ctx.Bind(&payload); err != nil {
			respondError(ctx, consts.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}

		if payload.DisplayName == "" || payload.VideoID == "" {
			respondError(ctx, consts.StatusBadRequest, "invalid_request", "displayName and videoId are required")
			return
		}

		session, err := roomManager.CreateRoom(c, payload.DisplayName, payload.VideoID)
		if err != nil {
			if errors.Is(err, store.ErrInvalidVideo) {
				respondError(ctx, consts.StatusBadRequest, "invalid_video", err.Error())
				return
			}
			respondError(ctx, consts.StatusInternalServerError, "create_failed", err.Error())
			return
		}
		ilog.EventInfo(c, "CreateRoom", "roomID", session.RoomID, "videoID", payload.VideoID)

		ctx.JSON(consts.StatusCreated, session)
	}
}

func handleJoinRoom(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		roomID := ctx.Param("roomId")
		var payload joinRoomRequest
		if err := ctx.Bind(&payload); err != nil {
			respondError(ctx, consts.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}

		if payload.DisplayName == "" {
			respondError(ctx, consts.StatusBadRequest, "invalid_request", "displayName is required")
			return
		}

		session, err := roomManager.JoinRoom(c, roomID, payload.DisplayName)
		if err != nil {
			if errors.Is(err, rooms.ErrRoomNotFound) {
				respondError(ctx, consts.StatusNotFound, "room_not_found", err.Error())
				return
			}
			respondError(ctx, consts.StatusInternalServerError, "join_failed", err.Error())
			return
		}
		ilog.EventInfo(c, "JoinRoom", "roomID", roomID, "userID", session.UserID)

		ctx.JSON(consts.StatusOK, session)
	}
}

func handleGetRoom(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		roomID := ctx.Param("roomId")
		state, err := roomManager.GetState(c, roomID)
		if err != nil {
			if errors.Is(err, rooms.ErrRoomNotFound) {
				respondError(ctx, consts.StatusNotFound, "room_not_found", err.Error())
				return
			}
			respondError(ctx, consts.StatusInternalServerError, "state_fetch_failed", err.Error())
			return
		}

		ctx.JSON(consts.StatusOK, state)
	}
}

type createRoomRequest struct {
	DisplayName string `json:"displayName"`
	VideoID     string `json:"videoId"`
}

type joinRoomRequest struct {
	DisplayName string `json:"displayName"`
}

func respondError(ctx *app.RequestContext, status int, code, message string) {
	ctx.JSON(status, map[string]interface{}{
		"kind": "ERROR",
		"data": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
