package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"worldsd/model"
)

type MessageMatch struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	Role           string    `json:"role"`
	Preview        string    `json:"preview"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SearchMessages scans a world's transcript for messages containing the
// query. Matching happens on the normalized flat text, so legacy body
// shapes are searchable too. System messages are skipped.
func (l *ConversationLog) SearchMessages(ctx context.Context, worldID, query string) ([]MessageMatch, error) {
	if query == "" {
		return []MessageMatch{}, nil
	}

	rows, err := l.db.QueryContext(ctx, `
	SELECT id, conversation_id, role, content, created_at
	FROM messages
	WHERE world_id = ?
	ORDER BY created_at ASC, rowid ASC
	`, worldID)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	queryLower := strings.ToLower(query)
	var matches []MessageMatch

	for rows.Next() {
		var (
			id        string
			convID    string
			role      string
			content   string
			createdAt time.Time
		)
		if err := rows.Scan(&id, &convID, &role, &content, &createdAt); err != nil {
			continue
		}

		if role == model.RoleSystem {
			continue
		}

		parts, _ := model.PartsFromJSON([]byte(content))
		text := model.Message{Parts: parts}.FlattenText()
		if !strings.Contains(strings.ToLower(text), queryLower) {
			continue
		}

		preview := text
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}

		matches = append(matches, MessageMatch{
			ConversationID: convID,
			MessageID:      id,
			Role:           role,
			Preview:        preview,
			CreatedAt:      createdAt,
		})
	}

	return matches, rows.Err()
}
