// Package storage persists the append-only conversation log in sqlite.
// Messages are never edited or deleted; replay order is (created_at, rowid).
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"worldsd/model"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// lockStripes bounds the append-lock table: conversation IDs hash onto a
// fixed set of mutexes instead of growing a map entry per conversation for
// the daemon's lifetime.
const lockStripes = 64

type ConversationLog struct {
	db *sql.DB

	// Concurrent writers to the same conversation are serialized, not
	// rejected. Independent conversations append in parallel unless they
	// collide on a stripe.
	locks [lockStripes]sync.Mutex
}

func NewConversationLog(dataDir string) (*ConversationLog, error) {
	dbPath := filepath.Join(dataDir, "conversations.db")

	// Readers and the reconciler's writer share this database from separate
	// connections; without a busy timeout sqlite fails overlapping access
	// immediately with SQLITE_BUSY instead of waiting for the lock.
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log := &ConversationLog{db: db}

	if err := log.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return log, nil
}

func (l *ConversationLog) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		world_id TEXT,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	`

	_, err := l.db.Exec(schema)
	if err != nil {
		return err
	}

	// Migration for databases created before worlds were attached to rows
	if err := l.migrateSchema(); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	return nil
}

// migrateSchema adds missing columns to existing databases
func (l *ConversationLog) migrateSchema() error {
	hasWorldID, err := l.columnExists("messages", "world_id")
	if err != nil {
		return fmt.Errorf("failed to check for world_id column: %w", err)
	}

	switch {
	case !hasWorldID:
		_, err := l.db.Exec(`ALTER TABLE messages ADD COLUMN world_id TEXT DEFAULT ''`)
		if err != nil {
			return fmt.Errorf("failed to add world_id column: %w", err)
		}
	}

	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info
func (l *ConversationLog) columnExists(tableName, columnName string) (bool, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", tableName)
	rows, err := l.db.Query(query)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name string
		var dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk)
		if err != nil {
			return false, err
		}

		switch {
		case name == columnName:
			return true, nil
		}
	}

	return false, rows.Err()
}

func (l *ConversationLog) conversationLock(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	return &l.locks[h.Sum32()%lockStripes]
}

// Append adds one message to a conversation and returns its ID. The body is
// written in the canonical parts envelope; inserting an ID that already
// exists is an error, which is what makes retried finalizations safe.
func (l *ConversationLog) Append(ctx context.Context, worldID string, msg model.Message) (string, error) {
	if msg.ConversationID == "" {
		return "", fmt.Errorf("message has no conversation ID")
	}

	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	content, err := model.PartsJSON(msg.Parts)
	if err != nil {
		return "", fmt.Errorf("failed to encode message body: %w", err)
	}

	mu := l.conversationLock(msg.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	query := `
	INSERT INTO messages (id, conversation_id, world_id, role, content, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = l.db.ExecContext(ctx, query,
		id,
		msg.ConversationID,
		worldID,
		msg.Role,
		string(content),
		createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("message %s already appended: %w", id, ErrDuplicateMessage)
		}
		return "", fmt.Errorf("failed to append message: %w", err)
	}

	return id, nil
}

// ErrDuplicateMessage marks an append whose message ID is already on disk.
// Callers retrying a finalization treat it as success; any other append
// failure is a real write error.
var ErrDuplicateMessage = errors.New("duplicate message id")

// isUniqueViolation matches the sqlite primary-key constraint error. The
// driver exposes no typed error for it, so this goes by message text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// List returns a conversation's messages in replay order, each body
// normalized to canonical parts whatever shape it was stored in.
func (l *ConversationLog) List(ctx context.Context, conversationID string) ([]model.Message, error) {
	query := `
	SELECT id, conversation_id, role, content, created_at
	FROM messages
	WHERE conversation_id = ?
	ORDER BY created_at ASC, rowid ASC
	`

	rows, err := l.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var (
			id        string
			convID    string
			role      string
			content   string
			createdAt time.Time
		)
		if err := rows.Scan(&id, &convID, &role, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		parts, _ := model.PartsFromJSON([]byte(content))
		messages = append(messages, model.Message{
			ID:             id,
			ConversationID: convID,
			Role:           role,
			Parts:          parts,
			CreatedAt:      createdAt,
		})
	}

	return messages, rows.Err()
}

func (l *ConversationLog) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
