// Package history provides PostgreSQL-backed storage for conversation records
// and their messages. Every formed session gets a durable conversation row at
// match time; messages are appended as they are relayed, keyed by the sender's
// anonymous identity so transcripts survive reconnects.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store manages conversation history in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Conversation is the durable record of a formed session.
type Conversation struct {
	ID        string
	AnonA     string
	AnonB     string
	IsAdult   bool
	Tag       string
	CreatedAt time.Time
}

// Message is one persisted chat message. Exactly one of Body and ImageID is
// set.
type Message struct {
	ID             int64
	ConversationID string
	SenderAnonID   string
	Body           string
	ImageID        string
	CreatedAt      time.Time
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping postgres: %w", err)
	}
	return db, nil
}

// NewStore creates a history store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateConversation inserts the durable record for a freshly formed session.
func (s *Store) CreateConversation(ctx context.Context, roomID, anonA, anonB string, isAdult bool, tag string) error {
	const query = `
		INSERT INTO conversations (id, anon_a, anon_b, is_adult, tag)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, roomID, anonA, anonB, isAdult, tag); err != nil {
		return fmt.Errorf("history: insert conversation: %w", err)
	}
	return nil
}

// Conversation fetches a conversation record. Returns nil if not found.
func (s *Store) Conversation(ctx context.Context, id string) (*Conversation, error) {
	const query = `
		SELECT id, anon_a, anon_b, is_adult, tag, created_at
		FROM conversations
		WHERE id = $1`

	var c Conversation
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.AnonA, &c.AnonB, &c.IsAdult, &c.Tag, &c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: select conversation: %w", err)
	}
	return &c, nil
}

// AddMessage appends a relayed message to a conversation. body and imageID
// follow the exactly-one rule enforced at the protocol boundary; the table's
// CHECK constraint backs it up.
func (s *Store) AddMessage(ctx context.Context, conversationID, senderAnonID, body, imageID string) error {
	const query = `
		INSERT INTO messages (conversation_id, sender_anon_id, body, image_id)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))`

	if _, err := s.db.ExecContext(ctx, query, conversationID, senderAnonID, body, imageID); err != nil {
		return fmt.Errorf("history: insert message: %w", err)
	}
	return nil
}

// Messages returns a conversation's messages in send order, capped at limit.
func (s *Store) Messages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}

	const query = `
		SELECT id, conversation_id, sender_anon_id, COALESCE(body, ''), COALESCE(image_id, ''), created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at, id
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: select messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderAnonID, &m.Body, &m.ImageID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate messages: %w", err)
	}
	return msgs, nil
}
