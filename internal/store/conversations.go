package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"llm-council-relay/internal/council"
)

// Message is a single turn in a stored conversation. Assistant turns carry
// the full council output instead of plain content.
type Message struct {
	Role    string                 `json:"role"`
	Content string                 `json:"content,omitempty"`
	Stage1  []council.Stage1Result `json:"stage1,omitempty"`
	Stage2  []council.Stage2Result `json:"stage2,omitempty"`
	Stage3  []council.Stage3Result `json:"stage3,omitempty"`
}

// Conversation is a full stored conversation.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
}

// ConversationMetadata is the listing shape.
type ConversationMetadata struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
}

// ConversationStore keeps one JSON file per conversation under a
// directory. The directory is injected rather than read from a package
// global so tests and multi-tenant hosts get their own.
type ConversationStore struct {
	dir string
}

// NewConversationStore creates the directory if needed.
func NewConversationStore(dir string) (*ConversationStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &ConversationStore{dir: dir}, nil
}

func (s *ConversationStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Create initializes an empty conversation with a default title.
func (s *ConversationStore) Create(id string) (*Conversation, error) {
	conversation := &Conversation{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Title:     "New Conversation",
		Messages:  []Message{},
	}
	if err := s.Save(conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

// Get loads a conversation. Returns nil without error when it does not
// exist; an error only means reading or parsing failed.
func (s *ConversationStore) Get(id string) (*Conversation, error) {
	path := s.path(id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation file: %w", err)
	}

	var conversation Conversation
	if err := json.Unmarshal(data, &conversation); err != nil {
		return nil, fmt.Errorf("failed to parse conversation JSON: %w", err)
	}
	return &conversation, nil
}

// Save writes a conversation as formatted JSON.
func (s *ConversationStore) Save(conversation *Conversation) error {
	data, err := json.MarshalIndent(conversation, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if err := os.WriteFile(s.path(conversation.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write conversation file: %w", err)
	}
	return nil
}

// Delete removes a conversation, reporting whether it existed.
func (s *ConversationStore) Delete(id string) (bool, error) {
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns metadata for every conversation, newest first. Invalid or
// unreadable files are skipped.
func (s *ConversationStore) List() ([]ConversationMetadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	// Empty slice, not nil, to avoid null in JSON responses.
	conversations := make([]ConversationMetadata, 0)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var conv Conversation
		if err := json.Unmarshal(data, &conv); err != nil {
			continue
		}

		conversations = append(conversations, ConversationMetadata{
			ID:           conv.ID,
			CreatedAt:    conv.CreatedAt,
			Title:        conv.Title,
			MessageCount: len(conv.Messages),
		})
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].CreatedAt.After(conversations[j].CreatedAt)
	})
	return conversations, nil
}

// AddUserMessage appends a user turn.
func (s *ConversationStore) AddUserMessage(id, content string) error {
	return s.append(id, Message{Role: "user", Content: content})
}

// AddAssistantMessage appends an assistant turn holding all three stages.
func (s *ConversationStore) AddAssistantMessage(id string, run *council.Run) error {
	return s.append(id, Message{
		Role:   "assistant",
		Stage1: run.Stage1,
		Stage2: run.Stage2,
		Stage3: run.Stage3,
	})
}

// UpdateTitle replaces the conversation title.
func (s *ConversationStore) UpdateTitle(id, title string) error {
	conversation, err := s.Get(id)
	if err != nil {
		return err
	}
	if conversation == nil {
		return fmt.Errorf("conversation %s not found", id)
	}
	conversation.Title = title
	return s.Save(conversation)
}

func (s *ConversationStore) append(id string, message Message) error {
	conversation, err := s.Get(id)
	if err != nil {
		return err
	}
	if conversation == nil {
		return fmt.Errorf("conversation %s not found", id)
	}
	conversation.Messages = append(conversation.Messages, message)
	return s.Save(conversation)
}
