package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/spaces-realtime/internal/database"
	"github.com/npezzotti/spaces-realtime/internal/logging"
	"github.com/npezzotti/spaces-realtime/internal/server"
	"github.com/npezzotti/spaces-realtime/internal/types"
)

type CreateMessageRequest struct {
	RecipientId int    `json:"recipient_id"`
	Body        string `json:"body"`
	Attachment  string `json:"attachment"`
}

type CreateSpaceMessageRequest struct {
	Body       string `json:"body"`
	Attachment string `json:"attachment"`
}

type CreateNotificationRequest struct {
	RecipientId int                    `json:"recipient_id"`
	Type        types.NotificationType `json:"type"`
	Link        string                 `json:"link"`
}

type MarkReadResponse struct {
	Count  int64     `json:"count"`
	ReadAt time.Time `json:"read_at"`
}

type PresenceResponse struct {
	Online []int `json:"online"`
}

type UserPresenceResponse struct {
	UserId   int        `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

func (a *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error().Err(err).Msg("json encode")
	}
}

func (a *App) writeError(w http.ResponseWriter, r *http.Request, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		logging.Ctx(r.Context(), a.log).Error().Err(errResp).Msg("request failed")
	}
	a.writeJson(w, errResp.StatusCode, errResp)
}

func (a *App) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(); err != nil {
		a.writeError(w, r, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// queryInt reads an optional positive integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func pathId(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (a *App) createMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		a.writeError(w, r, NewUnauthorizedError())
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, r, NewBadRequestError())
		return
	}

	msg, err := a.dispatcher.DeliverDirectMessage(server.DirectMessage{
		SenderId:    userId,
		RecipientId: req.RecipientId,
		Body:        req.Body,
		Attachment:  req.Attachment,
	})
	if err != nil {
		a.writeError(w, r, errorFor(err))
		return
	}

	a.writeJson(w, http.StatusCreated, msg)
}

func (a *App) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		a.writeError(w, r, NewUnauthorizedError())
		return
	}

	with, err := queryInt(r, "with")
	if err != nil || with == 0 || with == userId {
		a.writeError(w, r, NewBadRequestError())
		return
	}
	before, err := queryInt(r, "before")
	if err != nil {
		a.writeError(w, r, NewBadRequestError())
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.writeError(w, r, NewBadRequestError())
		return
	}

	conv, err := a.store.GetConversation(userId, with)
	if errors.Is(err, sql.ErrNoRows) {
		a.writeJson(w, http.StatusOK, []types.Message{})
		return
	}
	if err != nil {
		a.writeError(w, r, NewInternalServerError(err))
		return
	}

	rows, err := a.store.GetMessages(conv.Id, before, limit)
	if err != nil {
		a.writeError(w, r, NewInternalServerError(err))
		return
	}

	msgs := make([]types.Message, 0, len(rows))
	for _, m := range rows {
		msgs = append(msgs, m.Typed())
	}

	a.writeJson(w, http.StatusOK, msgs)
}

func (a *App) markMessagesRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		a.writeError(w, r, NewUnauthorizedError())
		return
	}

	with, err := queryInt(r, "with")
	if err != nil || with == 0 || with == userId {
		a.writeError(w, r, NewBadRequestError())
		return
	}

	receipt, err := a.dispatcher.MarkRead(userId, with)
	if err != nil {
		a.writeError(w, r, NewInternalServerError(err))
		return
	}

	a.writeJson(w, http.StatusOK, MarkReadResponse{Count: receipt.Count, ReadAt: receipt.ReadAt})
}

func (a *App) getConversations(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		a.writeError(w, r, NewUnauthorizedError())
		return
	}

	rows, err := a.store.ListConversations(userId)
	if err != nil {
		a.writeError(w, r, NewInternalServerError(err))
		return
	}

	unread, err := a.store.CountUnread(userId)
	if err != nil {
		a.writeError(w, r, NewInternalServerError(err))
		return
	}

	convs := make([]types.Conversation, 0, len(rows))
	for _, c := range rows {
		convs = append(convs, c.Typed(unread[c.Other(userId)]))
	}

	a.writeJson(w, http.StatusOK, convs)
}

func (a *App) createSpaceMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		a.writeError(w, r, NewUnauthorizedError())
		return
	}

	spaceId, ok := pathId(r)
	if !ok {
		a.writeError(w, r, NewBadRequestError())
		return
	}

	var req CreateSpaceMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, r, NewBadRequestError())
		return
	}

	msg, err := a.dispatcher.DeliverSpaceMessage(server.SpaceMessage{
		SenderId:   userId,
		SpaceId:    spaceId,
		Body:       req.Body,
		Attachment: req.Attachment,
	})
	if err != nil {
		a.writeError(w, r, errorFor(err))
		return
	}

	a.writeJson(w, http.StatusCreated, msg)
}

func (a *App) getSpaceMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		a.writeError(w, r, NewUnauthorizedError())
		return
	}

	spaceId, ok := pathId(r)
	if !ok {
		a.writeError(w, r, NewBadRequestError())
		return
	}
	before, err := queryInt(r, "before")
	if err != nil {
		a.writeError(w, r, NewBadRequestError())
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.writeError(w, r, NewBadRequestError())
		return
	}

	member, err := a.store.IsSpaceMember(spaceId, userId)
	if err != nil {
		a.writeError(w, r, NewInternalServerError(err))
		return
	}
	if !member {
		a.writeError(w, r, NewForbiddenError())
		return
	}

	rows, err := a.store.GetSpaceMessages(spaceId, before, limit)
	if err != nil {
		a.writeError(w, r, NewInternalServerError(err))
		return
	}

	msgs := make([]types.SpaceMessage, 0, len(rows))
	for _, m := range rows {
		msgs = append(msgs, m.Typed())
	}

	a.writeJson(w, http.StatusOK, msgs)
}

func (a *App) createNotification(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		a.writeError(w, r, NewUnauthorizedError())
		return
	}

	var req CreateNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, r, NewBadRequestError())
		return
	}
	if req.RecipientId <= 0 || req.RecipientId == userId || !req.Type.Valid() {
		a.writeError(w, r, NewBadRequestError())
		return
	}

	row, err := a.store.CreateNotification(database.CreateNotificationParams{
		RecipientId: req.RecipientId,
		SenderId:    userId,
		Type:        string(req.Type),
		Link:        req.Link,
		CreatedAt:   server.Now(),
	})
	if err != nil {
		a.writeError(w, r, NewInternalServerError(err))
		return
	}

	n := row.Typed()
	a.relay.Notify(n.RecipientId, n)

	a.writeJson(w, http.StatusCreated, n)
}

func (a *App) getNotifications(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		a.writeError(w, r, NewUnauthorizedError())
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		a.writeError(w, r, NewBadRequestError())
		return
	}

	rows, err := a.store.ListNotifications(userId, limit)
	if err != nil {
		a.writeError(w, r, NewInternalServerError(err))
		return
	}

	notifications := make([]types.Notification, 0, len(rows))
	for _, n := range rows {
		notifications = append(notifications, n.Typed())
	}

	a.writeJson(w, http.StatusOK, notifications)
}

func (a *App) markNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		a.writeError(w, r, NewUnauthorizedError())
		return
	}

	if err := a.store.MarkNotificationsRead(userId); err != nil {
		a.writeError(w, r, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *App) getPresence(w http.ResponseWriter, r *http.Request) {
	a.writeJson(w, http.StatusOK, PresenceResponse{Online: a.tracker.Snapshot()})
}

func (a *App) getUserPresence(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(r)
	if !ok {
		a.writeError(w, r, NewBadRequestError())
		return
	}

	resp := UserPresenceResponse{UserId: id, Online: a.tracker.IsOnline(id)}
	if !resp.Online {
		if at, ok := a.tracker.LastSeen(r.Context(), id); ok {
			resp.LastSeen = &at
		}
	}

	a.writeJson(w, http.StatusOK, resp)
}

func (a *App) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	return slices.Contains(a.allowedOrigins, origin)
}

func (a *App) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		a.writeError(w, r, NewUnauthorizedError())
		return
	}

	user, err := a.store.GetUser(userId)
	if err != nil {
		a.writeError(w, r, errorFor(err))
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: a.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context(), a.log).Warn().Err(err).Msg("error upgrading connection")
		return
	}

	if _, err := a.dispatcher.ServeConn(conn, user.Typed()); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
	}
}
