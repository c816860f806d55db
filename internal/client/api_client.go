package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/npezzotti/go-readroom/internal/types"
)

const defaultHistoryLimit = 50

// APIClient implements the room, chat history, audio and chapter
// collaborators against the REST API.
type APIClient struct {
	baseURL      string
	sess         Session
	http         *http.Client
	historyLimit int
}

func NewAPIClient(baseURL string, sess Session, historyLimit int) *APIClient {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}

	return &APIClient{
		baseURL:      baseURL,
		sess:         sess,
		http:         &http.Client{Timeout: 15 * time.Second},
		historyLimit: historyLimit,
	}
}

var (
	_ RoomService    = (*APIClient)(nil)
	_ ChatHistory    = (*APIClient)(nil)
	_ AudioResolver  = (*APIClient)(nil)
	_ ChapterService = (*APIClient)(nil)
)

func (a *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.sess.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func roomPath(roomId string, suffix string) string {
	return "/api/rooms/" + url.PathEscape(roomId) + suffix
}

func (a *APIClient) GetRoom(ctx context.Context, roomId string) (types.Room, error) {
	var room types.Room
	err := a.do(ctx, http.MethodGet, roomPath(roomId, ""), nil, &room)
	return room, err
}

func (a *APIClient) GetRooms(ctx context.Context) ([]types.Room, error) {
	var rooms []types.Room
	err := a.do(ctx, http.MethodGet, "/api/rooms", nil, &rooms)
	return rooms, err
}

func (a *APIClient) GetParticipants(ctx context.Context, roomId string) ([]types.Participant, error) {
	var participants []types.Participant
	err := a.do(ctx, http.MethodGet, roomPath(roomId, "/participants"), nil, &participants)
	return participants, err
}

func (a *APIClient) CreateRoom(ctx context.Context, req types.CreateRoomRequest) (types.Room, error) {
	var room types.Room
	err := a.do(ctx, http.MethodPost, "/api/rooms", req, &room)
	return room, err
}

func (a *APIClient) EnterRoom(ctx context.Context, roomId string) error {
	return a.do(ctx, http.MethodPost, roomPath(roomId, "/enter"), nil, nil)
}

func (a *APIClient) LeaveRoom(ctx context.Context, roomId string) error {
	return a.do(ctx, http.MethodPost, roomPath(roomId, "/leave"), nil, nil)
}

func (a *APIClient) KickUser(ctx context.Context, roomId string, userId int) error {
	return a.do(ctx, http.MethodDelete, roomPath(roomId, "/participants/"+strconv.Itoa(userId)), nil, nil)
}

func (a *APIClient) StartReading(ctx context.Context, roomId string) error {
	return a.do(ctx, http.MethodPost, roomPath(roomId, "/start"), nil, nil)
}

func (a *APIClient) PauseReading(ctx context.Context, roomId string) error {
	return a.do(ctx, http.MethodPost, roomPath(roomId, "/pause"), nil, nil)
}

func (a *APIClient) GetRecentMessages(ctx context.Context, roomId string) ([]types.ChatMessage, error) {
	var messages []types.ChatMessage
	path := roomPath(roomId, "/messages?limit="+strconv.Itoa(a.historyLimit))
	err := a.do(ctx, http.MethodGet, path, nil, &messages)
	return messages, err
}

func (a *APIClient) GetAudioUrl(ctx context.Context, paragraphId, voiceType string) (string, error) {
	q := url.Values{}
	q.Set("paragraph_id", paragraphId)
	q.Set("voice", voiceType)

	var res types.AudioResource
	if err := a.do(ctx, http.MethodGet, "/api/tts?"+q.Encode(), nil, &res); err != nil {
		return "", err
	}
	return res.Url, nil
}

func (a *APIClient) GetChapter(ctx context.Context, chapterId string) (types.Chapter, error) {
	var chapter types.Chapter
	err := a.do(ctx, http.MethodGet, "/api/chapters/"+url.PathEscape(chapterId), nil, &chapter)
	return chapter, err
}
