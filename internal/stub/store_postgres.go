package stub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/prodesk/internal/chat/entity"
)

// PostgresStore is the durable RoomStore, selected when DATABASE_URL is set.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed room store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the chat tables if they do not exist. The message seq
// column preserves append order independently of timestamps.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chat_rooms (
			id UUID PRIMARY KEY,
			participants JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS chat_messages (
			seq BIGSERIAL PRIMARY KEY,
			id UUID NOT NULL UNIQUE,
			room_id UUID NOT NULL REFERENCES chat_rooms(id),
			payload JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_room ON chat_messages(room_id, seq);
	`)
	if err != nil {
		return fmt.Errorf("creating chat schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]entity.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.participants, r.updated_at,
			(SELECT m.payload FROM chat_messages m
			 WHERE m.room_id = r.id ORDER BY m.seq DESC LIMIT 1)
		FROM chat_rooms r
		WHERE r.participants @> $1
		ORDER BY r.updated_at DESC
	`, fmt.Sprintf(`[{"id": %q}]`, userID))
	if err != nil {
		return nil, fmt.Errorf("querying rooms: %w", err)
	}
	defer rows.Close()

	var out []entity.Conversation
	for rows.Next() {
		var (
			conv         entity.Conversation
			participants []byte
			last         []byte
		)
		if err := rows.Scan(&conv.ID, &participants, &conv.UpdatedAt, &last); err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		if err := json.Unmarshal(participants, &conv.Participants); err != nil {
			return nil, fmt.Errorf("decoding participants: %w", err)
		}
		if last != nil {
			var msg entity.Message
			if err := json.Unmarshal(last, &msg); err != nil {
				return nil, fmt.Errorf("decoding last message: %w", err)
			}
			conv.Messages = []entity.Message{msg}
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, roomID string) (*entity.Conversation, error) {
	var (
		conv         entity.Conversation
		participants []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, participants, updated_at FROM chat_rooms WHERE id = $1
	`, roomID).Scan(&conv.ID, &participants, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying room: %w", err)
	}
	if err := json.Unmarshal(participants, &conv.Participants); err != nil {
		return nil, fmt.Errorf("decoding participants: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM chat_messages WHERE room_id = $1 ORDER BY seq
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	conv.Messages = []entity.Message{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		var msg entity.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("decoding message: %w", err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return &conv, rows.Err()
}

func (s *PostgresStore) CreateOrGet(ctx context.Context, a, b entity.Participant) (*entity.Conversation, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM chat_rooms
		WHERE participants @> $1 AND participants @> $2
		LIMIT 1
	`, fmt.Sprintf(`[{"id": %q}]`, a.ID), fmt.Sprintf(`[{"id": %q}]`, b.ID)).Scan(&id)
	if err == nil {
		room, err := s.Get(ctx, id)
		return room, false, err
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("looking up room: %w", err)
	}

	conv := entity.Conversation{
		Participants: []entity.Participant{a, b},
		Messages:     []entity.Message{},
		UpdatedAt:    time.Now().UTC(),
	}
	participants, err := json.Marshal(conv.Participants)
	if err != nil {
		return nil, false, fmt.Errorf("encoding participants: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO chat_rooms (id, participants, updated_at)
		VALUES (gen_random_uuid(), $1, $2)
		RETURNING id
	`, participants, conv.UpdatedAt).Scan(&conv.ID)
	if err != nil {
		return nil, false, fmt.Errorf("creating room: %w", err)
	}
	return &conv, true, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, roomID string, msg entity.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE chat_rooms SET updated_at = $2 WHERE id = $1
	`, roomID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("touching room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrConversationNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_messages (id, room_id, payload) VALUES ($1, $2, $3)
	`, msg.ID, roomID, payload)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	return tx.Commit(ctx)
}
