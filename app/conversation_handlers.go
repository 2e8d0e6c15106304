package arena

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/putto11262002/arena/core"
	"github.com/putto11262002/arena/pkg/router"
)

type ConversationHandler struct {
	store core.ConversationStore
}

func NewConversationHandler(store core.ConversationStore) *ConversationHandler {
	return &ConversationHandler{store: store}
}

type CreateRoomResponse struct {
	ID string `json:"id"`
}

type LikeResponse struct {
	Like  int  `json:"like"`
	Liked bool `json:"liked"`
}

type ViewResponse struct {
	View int `json:"view"`
}

type CommentPayload struct {
	Content string `json:"content" validate:"required"`
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "malformed request body")
	}
	return nil
}

// statusFor is 201 when something was created and 200 otherwise.
func statusFor(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func (h *ConversationHandler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	var input core.RoomCreateInput
	if err := decodeJSON(r, &input); err != nil {
		return err
	}
	input.Owner = session.UID
	if err := input.Validate(); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return router.NewJsonError(http.StatusBadRequest, "invalid input")
		}
		return err
	}

	id, err := h.store.CreateRoom(r.Context(), input)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusCreated, CreateRoomResponse{ID: id})
}

func (h *ConversationHandler) GetRoomHandler(w http.ResponseWriter, r *http.Request) error {
	room, err := h.store.GetRoomByID(r.Context(), r.PathValue("roomID"))
	if err != nil {
		return err
	}
	if room == nil {
		return core.ErrInvalidRoom
	}
	return router.WriteJSON(w, http.StatusOK, room)
}

// parseMessageQuery reads the topic, cursor and limit query parameters.
func parseMessageQuery(r *http.Request) (core.MessageQuery, error) {
	var q core.MessageQuery
	values := r.URL.Query()

	if raw := values.Get("topic"); raw != "" {
		topic, err := strconv.Atoi(raw)
		if err != nil || topic < core.IntroductionTopicIndex {
			return q, router.NewJsonError(http.StatusBadRequest, core.ErrInvalidTopic.Error())
		}
		q.TopicIndex = &topic
	}

	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return q, router.NewJsonError(http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", core.MaxPageSize))
		}
		q.Limit = min(limit, core.MaxPageSize)
	}

	q.Cursor = values.Get("cursor")
	return q, nil
}

func (h *ConversationHandler) GetMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	roomID := r.PathValue("roomID")

	q, err := parseMessageQuery(r)
	if err != nil {
		return err
	}

	room, err := h.store.GetRoomByID(r.Context(), roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return core.ErrInvalidRoom
	}
	if q.TopicIndex != nil && !room.ValidTopicIndex(*q.TopicIndex) {
		return core.ErrInvalidTopic
	}

	page, err := h.store.GetMessages(r.Context(), roomID, session.UID, q)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, page)
}

func (h *ConversationHandler) GetMessageHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	msg, err := h.store.GetMessage(r.Context(), r.PathValue("roomID"), r.PathValue("messageID"), session.UID)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, msg)
}

// ToggleLikeHandler replies 201 when the like was added and 200 when it was removed.
func (h *ConversationHandler) ToggleLikeHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	liked, count, err := h.store.ToggleLike(r.Context(), r.PathValue("roomID"), r.PathValue("messageID"), session.UID)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, statusFor(liked), LikeResponse{Like: count, Liked: liked})
}

func (h *ConversationHandler) GetCommentsHandler(w http.ResponseWriter, r *http.Request) error {
	comments, err := h.store.GetComments(r.Context(), r.PathValue("roomID"), r.PathValue("messageID"))
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, comments)
}

// UpsertCommentHandler replies 201 with the new comment, or 200 when the caller's
// existing comment was replaced.
func (h *ConversationHandler) UpsertCommentHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	var payload CommentPayload
	if err := decodeJSON(r, &payload); err != nil {
		return err
	}
	if err := validate.Struct(payload); err != nil {
		return core.ErrInvalidComment
	}

	comment, created, err := h.store.UpsertComment(r.Context(), r.PathValue("roomID"), r.PathValue("messageID"),
		session.UID, payload.Content)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, statusFor(created), comment)
}

// RecordViewHandler replies 201 on the first view of the caller and 200 afterwards.
func (h *ConversationHandler) RecordViewHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	first, count, err := h.store.RecordView(r.Context(), r.PathValue("roomID"), r.PathValue("messageID"), session.UID)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, statusFor(first), ViewResponse{View: count})
}
