package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/confab/confab/internal/discussion/models"
)

// SQLiteRepository provides SQLite-based discussion storage.
type SQLiteRepository struct {
	db *sql.DB
}

// Ensure SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository opens (and if needed creates) the database at dbPath
// and initializes the schema.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	normalizedPath := normalizeSQLitePath(dbPath)
	if err := ensureSQLiteDir(normalizedPath); err != nil {
		return nil, fmt.Errorf("failed to prepare database path: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_mode=rwc", normalizedPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &SQLiteRepository{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

func ensureSQLiteDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func normalizeSQLitePath(dbPath string) string {
	if dbPath == "" {
		return dbPath
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return dbPath
	}
	return abs
}

// initSchema creates the database tables if they don't exist.
func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS discussions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		topic TEXT DEFAULT '',
		description TEXT DEFAULT '',
		created_by TEXT NOT NULL,
		status TEXT NOT NULL,
		strategy TEXT NOT NULL DEFAULT '{}',
		settings TEXT NOT NULL DEFAULT '{}',
		state TEXT NOT NULL DEFAULT '{}',
		metadata TEXT DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_discussions_status ON discussions(status);

	CREATE TABLE IF NOT EXISTS participants (
		id TEXT PRIMARY KEY,
		discussion_id TEXT NOT NULL REFERENCES discussions(id),
		type TEXT NOT NULL,
		agent_id TEXT DEFAULT '',
		user_id TEXT DEFAULT '',
		role TEXT DEFAULT '',
		display_name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		message_count INTEGER NOT NULL DEFAULT 0,
		last_message_at DATETIME,
		contribution_score REAL NOT NULL DEFAULT 0,
		engagement_level REAL NOT NULL DEFAULT 0,
		joined_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_participants_discussion ON participants(discussion_id, joined_at);
	CREATE INDEX IF NOT EXISTS idx_participants_agent ON participants(discussion_id, agent_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		discussion_id TEXT NOT NULL REFERENCES discussions(id),
		participant_id TEXT NOT NULL,
		content TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'message',
		metadata TEXT,
		reactions TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_discussion ON messages(discussion_id, created_at);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Discussion operations

// CreateDiscussion stores a new discussion, assigning an id and timestamps.
func (r *SQLiteRepository) CreateDiscussion(ctx context.Context, discussion *models.Discussion) error {
	if discussion.ID == "" {
		discussion.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	discussion.CreatedAt = now
	discussion.UpdatedAt = now

	strategy, settings, state, metadata, err := marshalDiscussionColumns(discussion)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO discussions (id, title, topic, description, created_by, status, strategy, settings, state, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		discussion.ID, discussion.Title, discussion.Topic, discussion.Description,
		discussion.CreatedBy, string(discussion.Status), strategy, settings, state, metadata,
		discussion.CreatedAt, discussion.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create discussion: %w", err)
	}
	return nil
}

// GetDiscussion retrieves a discussion by id.
func (r *SQLiteRepository) GetDiscussion(ctx context.Context, id string) (*models.Discussion, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, topic, description, created_by, status, strategy, settings, state, metadata, created_at, updated_at
		FROM discussions WHERE id = ?`, id)

	discussion, err := scanDiscussion(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrDiscussionNotFound, id)
	}
	return discussion, err
}

// UpdateDiscussion replaces an existing discussion.
func (r *SQLiteRepository) UpdateDiscussion(ctx context.Context, discussion *models.Discussion) error {
	discussion.UpdatedAt = time.Now().UTC()

	strategy, settings, state, metadata, err := marshalDiscussionColumns(discussion)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE discussions
		SET title = ?, topic = ?, description = ?, status = ?, strategy = ?, settings = ?, state = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		discussion.Title, discussion.Topic, discussion.Description, string(discussion.Status),
		strategy, settings, state, metadata, discussion.UpdatedAt, discussion.ID)
	if err != nil {
		return fmt.Errorf("failed to update discussion: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrDiscussionNotFound, discussion.ID)
	}
	return nil
}

// SearchDiscussions returns discussions matching the options, newest first.
func (r *SQLiteRepository) SearchDiscussions(ctx context.Context, opts SearchOptions) ([]*models.Discussion, error) {
	query := `
		SELECT id, title, topic, description, created_by, status, strategy, settings, state, metadata, created_at, updated_at
		FROM discussions WHERE 1=1`
	args := make([]interface{}, 0, 3)
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.CreatedBy != "" {
		query += " AND created_by = ?"
		args = append(args, opts.CreatedBy)
	}
	query += " ORDER BY created_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search discussions: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Discussion, 0)
	for rows.Next() {
		discussion, err := scanDiscussion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, discussion)
	}
	return result, rows.Err()
}

// Participant operations

// CreateParticipant stores a new participant seat.
func (r *SQLiteRepository) CreateParticipant(ctx context.Context, participant *models.Participant) error {
	if participant.ID == "" {
		participant.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	participant.JoinedAt = now
	participant.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO participants (id, discussion_id, type, agent_id, user_id, role, display_name, active, message_count, last_message_at, contribution_score, engagement_level, joined_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		participant.ID, participant.DiscussionID, string(participant.Type),
		participant.AgentID, participant.UserID, participant.Role, participant.DisplayName,
		participant.Active, participant.MessageCount, participant.LastMessageAt,
		participant.ContributionScore, participant.EngagementLevel,
		participant.JoinedAt, participant.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create participant: %w", err)
	}
	return nil
}

// GetParticipant retrieves a participant by id.
func (r *SQLiteRepository) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	row := r.db.QueryRowContext(ctx, participantSelect+" WHERE id = ?", id)
	participant, err := scanParticipant(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrParticipantNotFound, id)
	}
	return participant, err
}

// GetParticipantByAgentID retrieves the participant seat an agent holds in
// a discussion.
func (r *SQLiteRepository) GetParticipantByAgentID(ctx context.Context, discussionID, agentID string) (*models.Participant, error) {
	row := r.db.QueryRowContext(ctx,
		participantSelect+" WHERE discussion_id = ? AND agent_id = ? AND type = 'agent' ORDER BY joined_at LIMIT 1",
		discussionID, agentID)
	participant, err := scanParticipant(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: agent %s in discussion %s", ErrParticipantNotFound, agentID, discussionID)
	}
	return participant, err
}

// UpdateParticipant replaces an existing participant.
func (r *SQLiteRepository) UpdateParticipant(ctx context.Context, participant *models.Participant) error {
	participant.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE participants
		SET role = ?, display_name = ?, active = ?, message_count = ?, last_message_at = ?, contribution_score = ?, engagement_level = ?, updated_at = ?
		WHERE id = ?`,
		participant.Role, participant.DisplayName, participant.Active,
		participant.MessageCount, participant.LastMessageAt,
		participant.ContributionScore, participant.EngagementLevel,
		participant.UpdatedAt, participant.ID)
	if err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrParticipantNotFound, participant.ID)
	}
	return nil
}

// ListParticipants returns all participants of a discussion in insertion
// order.
func (r *SQLiteRepository) ListParticipants(ctx context.Context, discussionID string) ([]*models.Participant, error) {
	return r.queryParticipants(ctx,
		participantSelect+" WHERE discussion_id = ? ORDER BY joined_at, id", discussionID)
}

// GetActiveParticipants returns the active participants of a discussion in
// insertion order.
func (r *SQLiteRepository) GetActiveParticipants(ctx context.Context, discussionID string) ([]*models.Participant, error) {
	return r.queryParticipants(ctx,
		participantSelect+" WHERE discussion_id = ? AND active = 1 ORDER BY joined_at, id", discussionID)
}

func (r *SQLiteRepository) queryParticipants(ctx context.Context, query string, args ...interface{}) ([]*models.Participant, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Participant, 0)
	for rows.Next() {
		participant, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, participant)
	}
	return result, rows.Err()
}

// Message operations

// AppendMessage stores a new message.
func (r *SQLiteRepository) AppendMessage(ctx context.Context, message *models.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	metadata, reactions, err := marshalMessageColumns(message)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO messages (id, discussion_id, participant_id, content, type, metadata, reactions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.DiscussionID, message.ParticipantID, message.Content,
		string(message.Type), metadata, reactions, message.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by id.
func (r *SQLiteRepository) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := r.db.QueryRowContext(ctx, messageSelect+" WHERE id = ?", id)
	message, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	return message, err
}

// UpdateMessage replaces an existing message's metadata and reactions.
func (r *SQLiteRepository) UpdateMessage(ctx context.Context, message *models.Message) error {
	metadata, reactions, err := marshalMessageColumns(message)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE messages SET metadata = ?, reactions = ? WHERE id = ?",
		metadata, reactions, message.ID)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, message.ID)
	}
	return nil
}

// ListMessages returns messages in chronological order. With a limit, the
// newest messages are returned, still oldest-first.
func (r *SQLiteRepository) ListMessages(ctx context.Context, discussionID string, opts ListMessagesOptions) ([]*models.Message, error) {
	query := messageSelect + " WHERE discussion_id = ? ORDER BY created_at, id"
	args := []interface{}{discussionID}
	if opts.Limit > 0 {
		// Take the newest N, then restore chronological order.
		query = "SELECT * FROM (" + messageSelect +
			" WHERE discussion_id = ? ORDER BY created_at DESC, id DESC LIMIT ?) ORDER BY created_at, id"
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, message)
	}
	return result, rows.Err()
}

// CountMessages returns the number of messages in a discussion.
func (r *SQLiteRepository) CountMessages(ctx context.Context, discussionID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE discussion_id = ?", discussionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// Column helpers

const participantSelect = `
	SELECT id, discussion_id, type, agent_id, user_id, role, display_name, active, message_count, last_message_at, contribution_score, engagement_level, joined_at, updated_at
	FROM participants`

const messageSelect = `
	SELECT id, discussion_id, participant_id, content, type, metadata, reactions, created_at
	FROM messages`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func marshalDiscussionColumns(d *models.Discussion) (strategy, settings, state, metadata string, err error) {
	strategyBytes, err := json.Marshal(d.Strategy)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal strategy: %w", err)
	}
	settingsBytes, err := json.Marshal(d.Settings)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal settings: %w", err)
	}
	stateBytes, err := json.Marshal(d.State)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal state: %w", err)
	}
	metadataBytes, err := json.Marshal(d.Metadata)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(strategyBytes), string(settingsBytes), string(stateBytes), string(metadataBytes), nil
}

func scanDiscussion(s scanner) (*models.Discussion, error) {
	var d models.Discussion
	var status, strategy, settings, state, metadata string
	err := s.Scan(&d.ID, &d.Title, &d.Topic, &d.Description, &d.CreatedBy, &status,
		&strategy, &settings, &state, &metadata, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	d.Status = models.Status(status)
	if err := json.Unmarshal([]byte(strategy), &d.Strategy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal strategy: %w", err)
	}
	if err := json.Unmarshal([]byte(settings), &d.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &d.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &d.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &d, nil
}

func scanParticipant(s scanner) (*models.Participant, error) {
	var p models.Participant
	var ptype string
	var lastMessageAt sql.NullTime
	err := s.Scan(&p.ID, &p.DiscussionID, &ptype, &p.AgentID, &p.UserID, &p.Role,
		&p.DisplayName, &p.Active, &p.MessageCount, &lastMessageAt,
		&p.ContributionScore, &p.EngagementLevel, &p.JoinedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Type = models.ParticipantType(ptype)
	if lastMessageAt.Valid {
		t := lastMessageAt.Time
		p.LastMessageAt = &t
	}
	return &p, nil
}

func marshalMessageColumns(m *models.Message) (metadata, reactions sql.NullString, err error) {
	if m.Metadata != nil {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return metadata, reactions, fmt.Errorf("failed to marshal message metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}
	if len(m.Reactions) > 0 {
		b, err := json.Marshal(m.Reactions)
		if err != nil {
			return metadata, reactions, fmt.Errorf("failed to marshal reactions: %w", err)
		}
		reactions = sql.NullString{String: string(b), Valid: true}
	}
	return metadata, reactions, nil
}

func scanMessage(s scanner) (*models.Message, error) {
	var m models.Message
	var mtype string
	var metadata, reactions sql.NullString
	err := s.Scan(&m.ID, &m.DiscussionID, &m.ParticipantID, &m.Content, &mtype,
		&metadata, &reactions, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	m.Type = models.MessageType(mtype)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
		}
	}
	if reactions.Valid && reactions.String != "" {
		if err := json.Unmarshal([]byte(reactions.String), &m.Reactions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reactions: %w", err)
		}
	}
	return &m, nil
}
