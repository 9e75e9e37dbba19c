package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studychat/internal/chat"
	"studychat/internal/middleware"
	"studychat/internal/mocks"
	"studychat/internal/models"
	"studychat/internal/repositories"
)

func setupRouter(groupRepo repositories.GroupRepository, session *chat.Session) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	groups := NewGroupHandler(groupRepo, session, nil)
	messages := NewMessageHandler(session, nil)

	api := r.Group("/", middleware.Identity())
	api.POST("/groups", groups.CreateGroup)
	api.GET("/groups/:group_id", groups.GetGroup)
	api.GET("/groups/:group_id/messages", groups.GetGroupMessages)
	api.POST("/groups/:group_id/messages", groups.PostGroupMessage)
	api.PATCH("/messages/:message_id", messages.EditMessage)
	api.DELETE("/messages/:message_id", messages.DeleteMessage)
	return r
}

func newTestSession(notifier chat.Notifier) (*chat.Session, *repositories.MemoryMessageRepo) {
	store := repositories.NewMemoryMessageRepo(nil)
	return chat.NewSession(store, notifier), store
}

func doRequest(router *gin.Engine, method, path, userID, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestMissingIdentityIsRejected(t *testing.T) {
	session, _ := newTestSession(nil)
	router := setupRouter(new(mocks.GroupRepositoryMock), session)

	rec := doRequest(router, http.MethodGet, "/groups/1/messages", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(router, http.MethodGet, "/groups/1/messages", "abc", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateGroupSuccess(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	session, _ := newTestSession(nil)
	router := setupRouter(groupRepo, session)

	groupRepo.On("CreateGroup", mock.Anything, "algebra").Return(models.Group{ID: 5, Name: "algebra"}, nil).Once()

	rec := doRequest(router, http.MethodPost, "/groups", "1", `{"name":"algebra"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	groupRepo.AssertExpectations(t)
}

func TestCreateGroupInvalidBody(t *testing.T) {
	session, _ := newTestSession(nil)
	router := setupRouter(new(mocks.GroupRepositoryMock), session)

	rec := doRequest(router, http.MethodPost, "/groups", "1", `{"name":5}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetGroup(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	session, _ := newTestSession(nil)
	router := setupRouter(groupRepo, session)

	groupRepo.On("GetGroup", mock.Anything, int64(9)).Return(models.Group{ID: 9, Name: "physics"}, nil).Once()
	groupRepo.On("GetGroup", mock.Anything, int64(10)).Return(nil, repositories.ErrGroupNotFound).Once()
	groupRepo.On("GetGroup", mock.Anything, int64(11)).Return(nil, errors.New("db down")).Once()

	require.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/groups/9", "1", "").Code)
	require.Equal(t, http.StatusNotFound, doRequest(router, http.MethodGet, "/groups/10", "1", "").Code)
	require.Equal(t, http.StatusInternalServerError, doRequest(router, http.MethodGet, "/groups/11", "1", "").Code)
	require.Equal(t, http.StatusBadRequest, doRequest(router, http.MethodGet, "/groups/bad", "1", "").Code)
	groupRepo.AssertExpectations(t)
}

func TestPostGroupMessageSuccess(t *testing.T) {
	notifier := new(mocks.NotifierMock)
	notifier.On("SendEvent", mock.Anything, mock.MatchedBy(func(env models.Envelope) bool {
		return env.Type == models.EventNew && env.Message != nil && env.Message.Content == "hey"
	})).Return(nil).Once()
	session, store := newTestSession(notifier)
	router := setupRouter(new(mocks.GroupRepositoryMock), session)

	rec := doRequest(router, http.MethodPost, "/groups/9/messages", "1", `{"content":"hey"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Message models.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "hey", resp.Message.Content)
	require.Equal(t, int64(9), resp.Message.GroupID)

	stored, err := store.FindByGroup(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	notifier.AssertExpectations(t)
}

func TestPostGroupMessageBlankContent(t *testing.T) {
	notifier := new(mocks.NotifierMock)
	session, store := newTestSession(notifier)
	router := setupRouter(new(mocks.GroupRepositoryMock), session)

	rec := doRequest(router, http.MethodPost, "/groups/9/messages", "1", `{"content":"   "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "must not be empty")

	stored, err := store.FindByGroup(context.Background(), 9)
	require.NoError(t, err)
	require.Empty(t, stored)
	notifier.AssertNotCalled(t, "SendEvent", mock.Anything, mock.Anything)
}

func TestPostGroupMessageTransportFailure(t *testing.T) {
	notifier := new(mocks.NotifierMock)
	notifier.On("SendEvent", mock.Anything, mock.Anything).Return(errors.New("no peers reachable"))
	session, _ := newTestSession(notifier)
	router := setupRouter(new(mocks.GroupRepositoryMock), session)

	rec := doRequest(router, http.MethodPost, "/groups/9/messages", "1", `{"content":"hey"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "saved but not broadcast")
	require.Contains(t, rec.Body.String(), `"content":"hey"`)
}

func TestGetGroupMessages(t *testing.T) {
	notifier := new(mocks.NotifierMock)
	notifier.On("SendEvent", mock.Anything, mock.Anything).Return(nil)
	session, store := newTestSession(notifier)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)
	tick := 0
	store.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})
	router := setupRouter(new(mocks.GroupRepositoryMock), session)

	for _, text := range []string{"a", "b", "c"} {
		_, err := session.Send(context.Background(), 1, 9, text)
		require.NoError(t, err)
	}

	rec := doRequest(router, http.MethodGet, "/groups/9/messages", "2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 3)
	require.Equal(t, "a", resp.Messages[0].Content)

	cursor := models.FormatLocal(base.Add(3 * time.Minute))
	rec = doRequest(router, http.MethodGet, "/groups/9/messages?limit=1&before="+cursor, "2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp.Messages = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	require.Equal(t, "b", resp.Messages[0].Content)

	rec = doRequest(router, http.MethodGet, "/groups/10/messages", "2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"messages":[]}`, rec.Body.String())

	require.Equal(t, http.StatusBadRequest, doRequest(router, http.MethodGet, "/groups/9/messages?before=yesterday", "2", "").Code)
	require.Equal(t, http.StatusBadRequest, doRequest(router, http.MethodGet, "/groups/9/messages?before="+cursor+"&limit=0", "2", "").Code)
}
