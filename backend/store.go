package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/puyokura/vibechat/model"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactive           = errors.New("account disabled")
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists users, messages and uploaded media in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore opens (creating if needed) the database at path. ":memory:" is
// accepted for tests.
func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:     db,
		logger: slog.Default().With("component", "store"),
		now:    time.Now,
	}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			full_name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			profile_pic TEXT NOT NULL DEFAULT '',
			gender TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS media (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			content_type TEXT NOT NULL,
			data BLOB NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			receiver_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			text TEXT NOT NULL DEFAULT '',
			image TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timestamp() (time.Time, string) {
	t := s.now().UTC()
	return t, t.Format(timeLayout)
}

// CreateUser registers a new account. The password is stored as a bcrypt hash.
func (s *Store) CreateUser(ctx context.Context, req model.SignupRequest) (model.Identity, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return model.Identity{}, fmt.Errorf("hashing password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return model.Identity{}, fmt.Errorf("generating user id: %w", err)
	}
	created, createdText := s.timestamp()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, full_name, email, password_hash, gender, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id.String(), strings.TrimSpace(req.FullName), email, string(hash), string(req.Gender), createdText)
	if err != nil {
		if isConstraintViolation(err) {
			return model.Identity{}, ErrEmailTaken
		}
		return model.Identity{}, fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", id.String())
	return model.Identity{
		ID:        id.String(),
		FullName:  strings.TrimSpace(req.FullName),
		Email:     email,
		Gender:    req.Gender,
		IsActive:  true,
		CreatedAt: created,
	}, nil
}

// Authenticate returns the account for email when password matches it.
func (s *Store) Authenticate(ctx context.Context, email, password string) (model.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, email, profile_pic, gender, is_active, created_at, password_hash
		FROM users WHERE email = ?
	`, strings.ToLower(strings.TrimSpace(email)))

	var hash string
	id, err := scanIdentity(row, &hash)
	if errors.Is(err, ErrNotFound) {
		return model.Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.Identity{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return model.Identity{}, ErrInvalidCredentials
	}
	if !id.IsActive {
		return model.Identity{}, ErrInactive
	}
	return id, nil
}

// GetUser retrieves an account by id.
func (s *Store) GetUser(ctx context.Context, id string) (model.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, email, profile_pic, gender, is_active, created_at
		FROM users WHERE id = ?
	`, id)
	return scanIdentity(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner, extra ...any) (model.Identity, error) {
	var (
		id        model.Identity
		gender    string
		active    int
		createdAt string
	)
	dest := append([]any{&id.ID, &id.FullName, &id.Email, &id.ProfilePic, &gender, &active, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Identity{}, ErrNotFound
		}
		return model.Identity{}, fmt.Errorf("scanning user: %w", err)
	}
	id.Gender = model.Gender(gender)
	id.IsActive = active != 0

	var err error
	id.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return model.Identity{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return id, nil
}

// ListContacts returns every account except selfID in registration order.
func (s *Store) ListContacts(ctx context.Context, selfID string) ([]model.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, full_name, email, profile_pic, gender, is_active, created_at
		FROM users WHERE id != ?
		ORDER BY created_at ASC, id ASC
	`, selfID)
	if err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, model.Contact{
			ID:         id.ID,
			FullName:   id.FullName,
			Email:      id.Email,
			ProfilePic: id.ProfilePic,
			Gender:     id.Gender,
			IsActive:   id.IsActive,
			CreatedAt:  id.CreatedAt,
		})
	}
	return contacts, rows.Err()
}

// SetProfilePic replaces the avatar reference of a user.
func (s *Store) SetProfilePic(ctx context.Context, userID, pic string) error {
	return s.updateUser(ctx, "UPDATE users SET profile_pic = ? WHERE id = ?", pic, userID)
}

// SetActive enables or disables an account. Disabled accounts cannot log in.
func (s *Store) SetActive(ctx context.Context, userID string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	return s.updateUser(ctx, "UPDATE users SET is_active = ? WHERE id = ?", v, userID)
}

func (s *Store) updateUser(ctx context.Context, query string, value any, userID string) error {
	res, err := s.db.ExecContext(ctx, query, value, userID)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveMedia stores an uploaded blob and returns its id.
func (s *Store) SaveMedia(ctx context.Context, ownerID, contentType string, data []byte) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating media id: %w", err)
	}
	_, createdText := s.timestamp()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO media (id, owner_id, content_type, data, created_at) VALUES (?, ?, ?, ?, ?)
	`, id.String(), ownerID, contentType, data, createdText)
	if err != nil {
		return "", fmt.Errorf("inserting media: %w", err)
	}
	return id.String(), nil
}

// GetMedia returns a stored blob and its content type.
func (s *Store) GetMedia(ctx context.Context, id string) (string, []byte, error) {
	var (
		contentType string
		data        []byte
	)
	err := s.db.QueryRowContext(ctx, "SELECT content_type, data FROM media WHERE id = ?", id).Scan(&contentType, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("querying media: %w", err)
	}
	return contentType, data, nil
}

// CreateMessage stores a message and assigns its id and creation time.
func (s *Store) CreateMessage(ctx context.Context, senderID, receiverID, text, image string) (model.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return model.Message{}, fmt.Errorf("generating message id: %w", err)
	}
	created, createdText := s.timestamp()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, text, image, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id.String(), senderID, receiverID, text, image, createdText)
	if err != nil {
		return model.Message{}, fmt.Errorf("inserting message: %w", err)
	}

	return model.Message{
		ID:         id.String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Image:      image,
		CreatedAt:  created,
	}, nil
}

// Conversation returns the messages exchanged between a and b, oldest first.
func (s *Store) Conversation(ctx context.Context, a, b string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, text, image, created_at
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, id ASC
	`, a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		var (
			m         model.Message
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.Image, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}
