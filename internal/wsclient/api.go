package wsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"vidsync/internal/rooms"
	"vidsync/internal/store"
)

// CreateRoom calls the room service's create endpoint and returns the session
// binding the caller as host.
func CreateRoom(ctx context.Context, baseURL, displayName, videoID string) (*rooms.Session, error) {
	body, err := json.Marshal(map[string]string{
		"displayName": displayName,
		"videoId":     videoID,
	})
	if err != nil {
		return nil, err
	}
	return postSession(ctx, baseURL+"/api/rooms", body)
}

// JoinRoom calls the join endpoint. A missing room maps to rooms.ErrRoomNotFound.
func JoinRoom(ctx context.Context, baseURL, roomID, displayName string) (*rooms.Session, error) {
	body, err := json.Marshal(map[string]string{
		"displayName": displayName,
	})
	if err != nil {
		return nil, err
	}
	return postSession(ctx, baseURL+"/api/rooms/"+roomID+"/join", body)
}

func postSession(ctx context.Context, url string, body []byte) (*rooms.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusNotFound:
		return nil, rooms.ErrRoomNotFound
	case http.StatusBadRequest:
		return nil, store.ErrInvalidVideo
	default:
		return nil, fmt.Errorf("post %s: unexpected status %d", url, resp.StatusCode)
	}

	var session rooms.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}
