package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"vidsync/internal/protocol"
	"vidsync/internal/rooms"
	"vidsync/internal/store"
	"vidsync/internal/ws"
)

// Server is the echo-engine variant of the room API.
type Server struct {
	rooms  *rooms.Manager
	ws     *ws.Handler
	router *echo.Echo
}

type createRoomRequest struct {
	DisplayName string `json:"displayName"`
	VideoID     string `json:"videoId"`
}

type joinRoomRequest struct {
	DisplayName string `json:"displayName"`
}

func NewServer(manager *rooms.Manager) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	server := &Server{
		rooms:  manager,
		ws:     ws.NewHandler(manager),
		router: e,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.POST("/api/rooms", server.handleCreateRoom)
	e.POST("/api/rooms/:roomId/join", server.handleJoinRoom)
	e.GET("/api/rooms/:roomId", server.handleGetRoom)
	e.GET("/ws/rooms/:roomId", server.handleWebSocket)

	return server
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleCreateRoom(c echo.Context) error {
	var payload createRoomRequest
	if err := c.Bind(&payload); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid_request", "invalid request body")
	}
	if payload.DisplayName == "" || payload.VideoID == "" {
		return respondError(c, http.StatusBadRequest, "invalid_request", "displayName and videoId are required")
	}
	session, err := s.rooms.CreateRoom(c.Request().Context(), payload.DisplayName, payload.VideoID)
	if err != nil {
		if errors.Is(err, store.ErrInvalidVideo) {
			return respondError(c, http.StatusBadRequest, "invalid_video", err.Error())
		}
		return respondError(c, http.StatusInternalServerError, "create_failed", err.Error())
	}
	return c.JSON(http.StatusCreated, session)
}

func (s *Server) handleJoinRoom(c echo.Context) error {
	roomID := c.Param("roomId")
	var payload joinRoomRequest
	if err := c.Bind(&payload); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid_request", "invalid request body")
	}
	if payload.DisplayName == "" {
		return respondError(c, http.StatusBadRequest, "invalid_request", "displayName is required")
	}
	session, err := s.rooms.JoinRoom(c.Request().Context(), roomID, payload.DisplayName)
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			return respondError(c, http.StatusNotFound, "room_not_found", err.Error())
		}
		return respondError(c, http.StatusInternalServerError, "join_failed", err.Error())
	}
	return c.JSON(http.StatusOK, session)
}

func (s *Server) handleGetRoom(c echo.Context) error {
	roomID := c.Param("roomId")
	state, err := s.rooms.GetState(c.Request().Context(), roomID)
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			return respondError(c, http.StatusNotFound, "room_not_found", err.Error())
		}
		return respondError(c, http.StatusInternalServerError, "state_fetch_failed", err.Error())
	}
	return c.JSON(http.StatusOK, state)
}

func (s *Server) handleWebSocket(c echo.Context) error {
	roomID := c.Param("roomId")
	// Set the roomId in the URL path so the WebSocket handler can extract it.
	c.Request().URL.Path = "/ws/rooms/" + roomID
	// The WebSocket handler takes full control of the connection; returning
	// nil keeps echo from writing an additional response.
	s.ws.ServeHTTP(c.Response(), c.Request())
	return nil
}

func respondError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, protocol.Envelope{
		Kind: protocol.KindError,
		Data: protocol.ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}
