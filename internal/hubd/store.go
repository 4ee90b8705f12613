package hubd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mattisv/tradetalk/internal/chat"
)

// Store errors.
var (
	ErrUserExists      = errors.New("user already exists")
	ErrUserNotFound    = errors.New("user not found")
	ErrJobNotFound     = errors.New("job not found")
	ErrConvNotFound    = errors.New("conversation not found")
	ErrNotParticipant  = errors.New("user is not a participant")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

const (
	storeRetryAttempts = 3
	storeRetryBackoff  = 50 * time.Millisecond
)

// User is a stored account.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	AvatarURL    string
	Phone        string
	Role         chat.Role
	PasswordHash string
	CreatedAt    time.Time
}

// Job is a stored job posting.
type Job struct {
	ID        string
	OwnerID   string
	Title     string
	CreatedAt time.Time
}

// Store is the daemon's sqlite-backed state.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the database at path.
// defaultBusyTimeoutMs is the sqlite busy timeout used when none is
// configured.
const defaultBusyTimeoutMs = 5000

func OpenStore(path string, busyTimeoutMs int) (*Store, error) {
	if busyTimeoutMs <= 0 {
		busyTimeoutMs = defaultBusyTimeoutMs
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)", path, busyTimeoutMs)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			avatar_url TEXT,
			phone TEXT,
			role TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL REFERENCES users(id),
			title TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES jobs(id),
			homeowner_id TEXT NOT NULL REFERENCES users(id),
			trader_id TEXT NOT NULL REFERENCES users(id),
			created_at TEXT NOT NULL
		)`,
		// At most one conversation per (job, homeowner, trader).
		`CREATE UNIQUE INDEX IF NOT EXISTS conversations_parties_idx
			ON conversations(job_id, homeowner_id, trader_id)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id TEXT NOT NULL REFERENCES users(id),
			body TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx
			ON messages(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS reads (
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			last_read_at TEXT NOT NULL,
			PRIMARY KEY (conversation_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// CreateUser inserts a new account.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	if !u.Role.Valid() {
		return chat.ErrUnknownRole
	}
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO users (id, email, display_name, avatar_url, phone, role, password_hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, u.ID, u.Email, u.DisplayName, u.AvatarURL, u.Phone, string(u.Role), u.PasswordHash, formatTime(createdAt))
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UserByEmail loads an account by login email.
func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, avatar_url, phone, role, password_hash, created_at
		FROM users WHERE email = ?
	`, email))
}

// UserByID loads an account by id.
func (s *Store) UserByID(ctx context.Context, id string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, avatar_url, phone, role, password_hash, created_at
		FROM users WHERE id = ?
	`, id))
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var (
		u          User
		avatar     sql.NullString
		phone      sql.NullString
		role       string
		createdRaw string
	)
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &avatar, &phone, &role, &u.PasswordHash, &createdRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("failed to read user: %w", err)
	}
	u.AvatarURL = avatar.String
	u.Phone = phone.String
	u.Role = chat.Role(role)
	u.CreatedAt = parseTime(createdRaw)
	return u, nil
}

// CreateJob inserts a job posting.
func (s *Store) CreateJob(ctx context.Context, j Job) error {
	createdAt := j.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO jobs (id, owner_id, title, created_at) VALUES (?, ?, ?, ?)
		`, j.ID, j.OwnerID, j.Title, formatTime(createdAt))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// JobOwner returns the owning user id for a job.
func (s *Store) JobOwner(ctx context.Context, jobID string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM jobs WHERE id = ?`, jobID).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrJobNotFound
		}
		return "", fmt.Errorf("failed to read job: %w", err)
	}
	return owner, nil
}

// CreateConversation inserts a conversation for (job, homeowner, trader),
// returning the existing id when one already exists. The unique index makes
// concurrent duplicate creates collapse onto a single row.
func (s *Store) CreateConversation(ctx context.Context, id, jobID, homeownerID, traderID string) (string, error) {
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO conversations (id, job_id, homeowner_id, trader_id, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, id, jobID, homeownerID, traderID, formatTime(time.Now().UTC()))
		return err
	})
	if err == nil {
		return id, nil
	}
	if !isUniqueViolation(err) {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}

	var existing string
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM conversations WHERE job_id = ? AND homeowner_id = ? AND trader_id = ?
	`, jobID, homeownerID, traderID).Scan(&existing)
	if err != nil {
		return "", fmt.Errorf("failed to resolve existing conversation: %w", err)
	}
	return existing, nil
}

// conversationRow is the participant pair for one conversation.
type conversationRow struct {
	ID          string
	JobID       string
	HomeownerID string
	TraderID    string
}

func (s *Store) conversationByID(ctx context.Context, id string) (conversationRow, error) {
	var row conversationRow
	err := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, homeowner_id, trader_id FROM conversations WHERE id = ?
	`, id).Scan(&row.ID, &row.JobID, &row.HomeownerID, &row.TraderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversationRow{}, ErrConvNotFound
		}
		return conversationRow{}, fmt.Errorf("failed to read conversation: %w", err)
	}
	return row, nil
}

func (r conversationRow) counterpartyOf(userID string) (string, bool) {
	switch userID {
	case r.HomeownerID:
		return r.TraderID, true
	case r.TraderID:
		return r.HomeownerID, true
	default:
		return "", false
	}
}

// SummariesForUser lists the user's conversations newest-activity first,
// with per-conversation unread counts.
func (s *Store) SummariesForUser(ctx context.Context, userID string) ([]chat.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.job_id, j.title,
		       u.id, u.display_name, u.avatar_url, u.role,
		       (SELECT COUNT(*) FROM messages m
		         WHERE m.conversation_id = c.id
		           AND m.sender_id != ?
		           AND m.created_at > COALESCE(
		             (SELECT r.last_read_at FROM reads r
		               WHERE r.conversation_id = c.id AND r.user_id = ?), '')) AS unread,
		       COALESCE((SELECT MAX(m.created_at) FROM messages m
		         WHERE m.conversation_id = c.id), c.created_at) AS last_activity
		FROM conversations c
		JOIN jobs j ON j.id = c.job_id
		JOIN users u ON u.id = CASE WHEN c.homeowner_id = ? THEN c.trader_id ELSE c.homeowner_id END
		WHERE c.homeowner_id = ? OR c.trader_id = ?
		ORDER BY last_activity DESC
	`, userID, userID, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var summaries []chat.Conversation
	for rows.Next() {
		var (
			conv        chat.Conversation
			avatar      sql.NullString
			role        string
			activityRaw string
		)
		if err := rows.Scan(
			&conv.ID, &conv.JobID, &conv.Counterparty.JobTitle,
			&conv.Counterparty.ID, &conv.Counterparty.DisplayName, &avatar, &role,
			&conv.UnreadCount, &activityRaw,
		); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conv.Counterparty.AvatarURL = avatar.String
		conv.Counterparty.Role = chat.Role(role)
		conv.LastActivityAt = parseTime(activityRaw)
		summaries = append(summaries, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation query error: %w", err)
	}
	return summaries, nil
}

// MessagesFor returns the full history for a conversation, ascending.
func (s *Store) MessagesFor(ctx context.Context, conversationID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, body, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var (
			msg        chat.Message
			createdRaw string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Body, &createdRaw); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.CreatedAt = parseTime(createdRaw)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message query error: %w", err)
	}
	return messages, nil
}

// InsertMessage stores a message.
func (s *Store) InsertMessage(ctx context.Context, msg chat.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, body, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, msg.ID, msg.ConversationID, msg.SenderID, msg.Body, formatTime(createdAt))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

// MarkRead records the user as caught up on the conversation as of readAt.
// The stored watermark never moves backwards.
func (s *Store) MarkRead(ctx context.Context, conversationID, userID string, readAt time.Time) error {
	value := formatTime(readAt.UTC())
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO reads (conversation_id, user_id, last_read_at)
			VALUES (?, ?, ?)
			ON CONFLICT(conversation_id, user_id) DO UPDATE SET
				last_read_at = MAX(excluded.last_read_at, reads.last_read_at)
		`, conversationID, userID, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update read state: %w", err)
	}
	return nil
}

// SaveSession stores an issued session token.
func (s *Store) SaveSession(ctx context.Context, token, userID string, expiresAt time.Time) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (token, user_id, created_at, expires_at)
			VALUES (?, ?, ?, ?)
		`, token, userID, formatTime(time.Now().UTC()), formatTime(expiresAt.UTC()))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// UserIDForToken resolves a session token to its user, rejecting expired
// sessions.
func (s *Store) UserIDForToken(ctx context.Context, token string) (string, error) {
	var (
		userID     string
		expiresRaw string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, expires_at FROM sessions WHERE token = ?
	`, token).Scan(&userID, &expiresRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("failed to read session: %w", err)
	}
	if expiry := parseTime(expiresRaw); !expiry.IsZero() && time.Now().After(expiry) {
		return "", ErrSessionExpired
	}
	return userID, nil
}

// withRetry retries fn on busy database errors with doubling backoff.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	attempt := 0
	backoff := storeRetryBackoff

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn()
		if err == nil {
			return nil
		}

		attempt++
		if !isBusyError(err) || attempt >= storeRetryAttempts {
			return err
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "database is busy") ||
		strings.Contains(message, "sqlite_busy")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
