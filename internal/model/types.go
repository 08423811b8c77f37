package model

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageStatus tracks incremental completion of a message.
type MessageStatus string

const (
	StatusPending  MessageStatus = "pending"
	StatusComplete MessageStatus = "complete"
	StatusError    MessageStatus = "error"
)

// Message is one turn in a thread's conversation. Tool messages carry
// search results as provenance for the following assistant message and are
// never rendered as conversational turns themselves.
type Message struct {
	ID            string         `json:"id"`
	Role          Role           `json:"role"`
	Content       string         `json:"content"`
	Status        MessageStatus  `json:"status"`
	Timestamp     time.Time      `json:"timestamp"`
	SearchResults []SearchResult `json:"search_results,omitempty"`
}

// NewMessage creates a message with a fresh ID and the given role/content.
func NewMessage(role Role, content string, status MessageStatus) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// SearchResult is one hit from the search provider. Immutable once created.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	// Query is the planned query that produced this result.
	Query string `json:"query"`
}
