package core

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SQLiteConversationStore struct {
	db *sql.DB
}

func NewSQLiteConversationStore(db *sql.DB) *SQLiteConversationStore {
	return &SQLiteConversationStore{db: db}
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteConversationStore) CreateRoom(ctx context.Context, input RoomCreateInput) (string, error) {
	if err := input.Validate(); err != nil {
		return "", err
	}

	topics := input.Topics
	if topics == nil {
		topics = []string{}
	}
	b, err := json.Marshal(topics)
	if err != nil {
		return "", fmt.Errorf("json.Marshal(topics): %w", err)
	}

	var mainTopicIndex sql.NullInt64
	if input.MainTopicIndex != nil {
		mainTopicIndex = sql.NullInt64{Int64: int64(*input.MainTopicIndex), Valid: true}
	}

	id := uuid.New().String()
	query := `INSERT INTO rooms (id, owner, topics, main_topic_index, created_at)
	          VALUES (@id, @owner, @topics, @main_topic_index, @created_at)`
	_, err = s.db.ExecContext(ctx, query,
		sql.Named("id", id), sql.Named("owner", input.Owner),
		sql.Named("topics", string(b)), sql.Named("main_topic_index", mainTopicIndex),
		sql.Named("created_at", time.Now().UTC()))
	if err != nil {
		return "", fmt.Errorf("ExecContext: %w", err)
	}
	return id, nil
}

func (s *SQLiteConversationStore) GetRoomByID(ctx context.Context, roomID string) (*Room, error) {
	query := `SELECT id, owner, topics, main_topic_index, created_at FROM rooms WHERE id = @id`
	row := s.db.QueryRowContext(ctx, query, sql.Named("id", roomID))

	var room Room
	var topics string
	var mainTopicIndex sql.NullInt64
	if err := row.Scan(&room.ID, &room.Owner, &topics, &mainTopicIndex, &room.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("row.Scan: %w", err)
	}
	if err := json.Unmarshal([]byte(topics), &room.Topics); err != nil {
		return nil, fmt.Errorf("json.Unmarshal(topics): %w", err)
	}
	if mainTopicIndex.Valid {
		i := int(mainTopicIndex.Int64)
		room.MainTopicIndex = &i
	}
	return &room, nil
}

func (s *SQLiteConversationStore) SendMessage(ctx context.Context, input MessageCreateInput) (*Message, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	room, err := s.GetRoomByID(ctx, input.RoomID)
	if err != nil {
		return nil, fmt.Errorf("GetRoomByID: %w", err)
	}
	if room == nil {
		return nil, ErrInvalidRoom
	}
	if !room.ValidTopicIndex(input.TopicIndex) {
		return nil, ErrInvalidTopic
	}

	message := Message{
		ID:         uuid.New().String(),
		RoomID:     input.RoomID,
		Content:    input.Content,
		File:       input.File,
		Sender:     Participant{UID: input.Sender, RoomID: input.RoomID},
		TopicIndex: input.TopicIndex,
		CreatedAt:  time.Now().UTC(),
	}

	var fileName, fileType, fileData, fileURL sql.NullString
	if f := input.File; f != nil {
		fileName = sql.NullString{String: f.Name, Valid: true}
		fileType = sql.NullString{String: f.Type, Valid: true}
		fileData = sql.NullString{String: f.Data, Valid: f.Data != ""}
		fileURL = sql.NullString{String: f.URL, Valid: f.URL != ""}
	}

	query := `
		INSERT INTO messages (id, room_id, sender, content, file_name, file_type, file_data, file_url, topic_index, created_at)
		VALUES (@id, @room_id, @sender, @content, @file_name, @file_type, @file_data, @file_url, @topic_index, @created_at)`
	_, err = s.db.ExecContext(ctx, query,
		sql.Named("id", message.ID), sql.Named("room_id", message.RoomID),
		sql.Named("sender", input.Sender), sql.Named("content", message.Content),
		sql.Named("file_name", fileName), sql.Named("file_type", fileType),
		sql.Named("file_data", fileData), sql.Named("file_url", fileURL),
		sql.Named("topic_index", message.TopicIndex), sql.Named("created_at", message.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("ExecContext: %w", err)
	}
	return &message, nil
}

// selectMessage selects the columns read by scanMessage. It expects a @viewer parameter.
const selectMessage = `
	SELECT m.seq, m.id, m.room_id, m.sender, m.content,
	m.file_name, m.file_type, m.file_data, m.file_url,
	m.topic_index, m.created_at,
	(SELECT count(*) FROM message_likes AS l WHERE l.message_id = m.id),
	EXISTS (SELECT 1 FROM message_likes AS l WHERE l.message_id = m.id AND l.username = @viewer),
	(SELECT count(*) FROM message_comments AS c WHERE c.message_id = m.id),
	(SELECT count(*) FROM message_views AS v WHERE v.message_id = m.id),
	EXISTS (SELECT 1 FROM message_views AS v WHERE v.message_id = m.id AND v.username = @viewer)
	FROM messages AS m`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (int64, Message, error) {
	var seq int64
	var m Message
	var fileName, fileType, fileData, fileURL sql.NullString
	if err := row.Scan(
		&seq, &m.ID, &m.RoomID, &m.Sender.UID, &m.Content,
		&fileName, &fileType, &fileData, &fileURL,
		&m.TopicIndex, &m.CreatedAt,
		&m.Like, &m.Liked, &m.Comments, &m.View, &m.Viewed,
	); err != nil {
		return 0, m, err
	}
	m.Sender.RoomID = m.RoomID
	if fileName.Valid {
		m.File = &File{Name: fileName.String, Type: fileType.String, Data: fileData.String, URL: fileURL.String}
	}
	return seq, m, nil
}

func encodeCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(seq, 10)))
}

func decodeCursor(cursor string) (int64, error) {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, ErrInvalidCursor
	}
	seq, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil || seq <= 0 {
		return 0, ErrInvalidCursor
	}
	return seq, nil
}

func (s *SQLiteConversationStore) GetMessages(ctx context.Context, roomID, viewer string, q MessageQuery) (MessagePage, error) {
	page := MessagePage{Data: []Message{}}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	var before int64
	if q.Cursor != "" {
		seq, err := decodeCursor(q.Cursor)
		if err != nil {
			return page, err
		}
		before = seq
	}

	topicFilter, topicIndex := 0, 0
	if q.TopicIndex != nil {
		topicFilter, topicIndex = 1, *q.TopicIndex
	}

	query := selectMessage + `
	WHERE m.room_id = @room_id
	AND (@topic_filter = 0 OR m.topic_index = @topic_index)
	AND (@before = 0 OR m.seq < @before)
	ORDER BY m.seq DESC
	LIMIT @limit`

	rows, err := s.db.QueryContext(ctx, query,
		sql.Named("viewer", viewer), sql.Named("room_id", roomID),
		sql.Named("topic_filter", topicFilter), sql.Named("topic_index", topicIndex),
		sql.Named("before", before), sql.Named("limit", limit+1))
	if err != nil {
		return page, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var lastSeq int64
	for rows.Next() {
		seq, m, err := scanMessage(rows)
		if err != nil {
			return page, fmt.Errorf("rows.Scan: %w", err)
		}
		if len(page.Data) == limit {
			page.NextCursor = encodeCursor(lastSeq)
			break
		}
		lastSeq = seq
		page.Data = append(page.Data, m)
	}
	if err := rows.Err(); err != nil {
		return page, fmt.Errorf("rows.Err: %w", err)
	}
	return page, nil
}

func (s *SQLiteConversationStore) GetMessage(ctx context.Context, roomID, messageID, viewer string) (*Message, error) {
	query := selectMessage + ` WHERE m.room_id = @room_id AND m.id = @id`
	row := s.db.QueryRowContext(ctx, query,
		sql.Named("viewer", viewer), sql.Named("room_id", roomID), sql.Named("id", messageID))
	_, m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("row.Scan: %w", err)
	}
	return &m, nil
}

func messageExists(ctx context.Context, q rowQuerier, roomID, messageID string) error {
	var count int
	query := `SELECT count(*) FROM messages WHERE room_id = @room_id AND id = @id`
	if err := q.QueryRowContext(ctx, query,
		sql.Named("room_id", roomID), sql.Named("id", messageID)).Scan(&count); err != nil {
		return fmt.Errorf("row.Scan: %w", err)
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func countFor(ctx context.Context, q rowQuerier, table, messageID string) (int, error) {
	var count int
	query := `SELECT count(*) FROM ` + table + ` WHERE message_id = @message_id`
	if err := q.QueryRowContext(ctx, query, sql.Named("message_id", messageID)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return count, nil
}

func (s *SQLiteConversationStore) ToggleLike(ctx context.Context, roomID, messageID, user string) (bool, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	if err := messageExists(ctx, tx, roomID, messageID); err != nil {
		return false, 0, err
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM message_likes WHERE message_id = @message_id AND username = @username`,
		sql.Named("message_id", messageID), sql.Named("username", user))
	if err != nil {
		return false, 0, fmt.Errorf("ExecContext(delete like): %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("RowsAffected: %w", err)
	}

	liked := removed == 0
	if liked {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO message_likes (message_id, username, created_at) VALUES (@message_id, @username, @created_at)`,
			sql.Named("message_id", messageID), sql.Named("username", user), sql.Named("created_at", time.Now().UTC()))
		if err != nil {
			return false, 0, fmt.Errorf("ExecContext(insert like): %w", err)
		}
	}

	count, err := countFor(ctx, tx, "message_likes", messageID)
	if err != nil {
		return false, 0, err
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("Commit: %w", err)
	}
	return liked, count, nil
}

func (s *SQLiteConversationStore) UpsertComment(ctx context.Context, roomID, messageID, author, content string) (*Comment, bool, error) {
	if strings.TrimSpace(content) == "" {
		return nil, false, ErrInvalidComment
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	if err := messageExists(ctx, tx, roomID, messageID); err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	comment := Comment{MessageID: messageID, Author: author, Content: content, UpdatedAt: now}

	row := tx.QueryRowContext(ctx,
		`SELECT id, created_at FROM message_comments WHERE message_id = @message_id AND author = @author`,
		sql.Named("message_id", messageID), sql.Named("author", author))
	err = row.Scan(&comment.ID, &comment.CreatedAt)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return nil, false, fmt.Errorf("row.Scan: %w", err)
	}

	if created {
		comment.ID = uuid.New().String()
		comment.CreatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO message_comments (id, message_id, author, content, created_at, updated_at)
			VALUES (@id, @message_id, @author, @content, @created_at, @updated_at)`,
			sql.Named("id", comment.ID), sql.Named("message_id", messageID),
			sql.Named("author", author), sql.Named("content", content),
			sql.Named("created_at", now), sql.Named("updated_at", now))
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE message_comments SET content = @content, updated_at = @updated_at WHERE id = @id`,
			sql.Named("content", content), sql.Named("updated_at", now), sql.Named("id", comment.ID))
	}
	if err != nil {
		return nil, false, fmt.Errorf("ExecContext: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("Commit: %w", err)
	}
	return &comment, created, nil
}

func (s *SQLiteConversationStore) GetComments(ctx context.Context, roomID, messageID string) ([]Comment, error) {
	if err := messageExists(ctx, s.db, roomID, messageID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, author, content, created_at, updated_at
		FROM message_comments WHERE message_id = @message_id
		ORDER BY created_at ASC, id ASC`,
		sql.Named("message_id", messageID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.MessageID, &c.Author, &c.Content, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}
	return comments, nil
}

func (s *SQLiteConversationStore) RecordView(ctx context.Context, roomID, messageID, user string) (bool, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	if err := messageExists(ctx, tx, roomID, messageID); err != nil {
		return false, 0, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO message_views (message_id, username, created_at)
		VALUES (@message_id, @username, @created_at) ON CONFLICT DO NOTHING`,
		sql.Named("message_id", messageID), sql.Named("username", user), sql.Named("created_at", time.Now().UTC()))
	if err != nil {
		return false, 0, fmt.Errorf("ExecContext: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("RowsAffected: %w", err)
	}

	count, err := countFor(ctx, tx, "message_views", messageID)
	if err != nil {
		return false, 0, err
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("Commit: %w", err)
	}
	return inserted == 1, count, nil
}
