package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/cloudidada/internal/domain"
	"github.com/prn-tf/cloudidada/internal/store"
)

const userColumns = `id, user_name, email, password_hash, api_key, plan,
	usage_storage, usage_requests, auto_generated, created_at, updated_at`

const fileColumns = `id, user_id, original_name, remote_id, url, size, mime_type, format,
	width, height, checksum, folder, tags, storage, uploaded_at`

// Store implements store.PrimaryStore on an SQLite file.
// Timestamps are stored as unix nanoseconds, tags and activity data as JSON text.
type Store struct {
	db     *DB
	logger zerolog.Logger
}

// NewStore creates a Store on an open database.
func NewStore(db *DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("store", "sqlite").Logger(),
	}
}

// Name returns the provider name.
func (s *Store) Name() string {
	return "sqlite"
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.db.Ping(ctx))
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Provision applies the embedded schema.
func (s *Store) Provision(ctx context.Context) error {
	return classify("provision", s.db.Migrate(ctx))
}

// GetUserByID retrieves a user by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.queryUser(ctx, "get_user_by_id", `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetUserByAPIKey retrieves a user by API key.
func (s *Store) GetUserByAPIKey(ctx context.Context, apiKey string) (*domain.User, error) {
	return s.queryUser(ctx, "get_user_by_api_key", `SELECT `+userColumns+` FROM users WHERE api_key = ?`, apiKey)
}

// GetUserByEmail retrieves a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.queryUser(ctx, "get_user_by_email", `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (s *Store) queryUser(ctx context.Context, op, query string, arg any) (*domain.User, error) {
	var (
		u                    domain.User
		plan                 string
		autoGenerated        int
		createdAt, updatedAt int64
	)
	err := s.db.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.UserName, &u.Email, &u.PasswordHash, &u.APIKey, &plan,
		&u.Usage.Storage, &u.Usage.Requests, &autoGenerated, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, classify(op, err)
	}
	u.Plan = domain.Plan(plan)
	u.AutoGenerated = autoGenerated != 0
	u.CreatedAt = fromNanos(createdAt)
	u.UpdatedAt = fromNanos(updatedAt)
	return &u, nil
}

// PutUser upserts a user by id.
func (s *Store) PutUser(ctx context.Context, u *domain.User) error {
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_name = excluded.user_name,
			email = excluded.email,
			password_hash = excluded.password_hash,
			api_key = excluded.api_key,
			plan = excluded.plan,
			usage_storage = excluded.usage_storage,
			usage_requests = excluded.usage_requests,
			auto_generated = excluded.auto_generated,
			updated_at = excluded.updated_at`,
		u.ID, u.UserName, u.Email, u.PasswordHash, u.APIKey, string(u.Plan),
		u.Usage.Storage, u.Usage.Requests, boolToInt(u.AutoGenerated),
		toNanos(u.CreatedAt), toNanos(u.UpdatedAt),
	)
	return classify("put_user", err)
}

// GetFile retrieves a file record by id.
func (s *Store) GetFile(ctx context.Context, id string) (*domain.File, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	f, err := scanFile(row)
	if err != nil {
		return nil, classify("get_file", err)
	}
	return f, nil
}

// PutFile upserts a file record by id.
func (s *Store) PutFile(ctx context.Context, f *domain.File) error {
	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}
	rawTags, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			original_name = excluded.original_name,
			remote_id = excluded.remote_id,
			url = excluded.url,
			size = excluded.size,
			mime_type = excluded.mime_type,
			format = excluded.format,
			width = excluded.width,
			height = excluded.height,
			checksum = excluded.checksum,
			folder = excluded.folder,
			tags = excluded.tags,
			storage = excluded.storage`,
		f.ID, f.UserID, f.OriginalName, f.RemoteID, f.URL, f.Size, f.MimeType, f.Format,
		nullInt(f.Width), nullInt(f.Height), f.Checksum, f.Folder, string(rawTags), f.Storage,
		toNanos(f.UploadedAt),
	)
	return classify("put_file", err)
}

// ListFilesByUser queries the user's files, newest first.
func (s *Store) ListFilesByUser(ctx context.Context, userID string, filter domain.FileFilter) ([]*domain.File, error) {
	const op = "list_files"

	query, args := fileListQuery(userID, filter)
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	files := make([]*domain.File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return files, nil
}

// fileListQuery builds the listing query. Format is a substring match on the MIME type.
func fileListQuery(userID string, filter domain.FileFilter) (string, []any) {
	var b strings.Builder
	args := []any{userID}

	b.WriteString(`SELECT ` + fileColumns + ` FROM files WHERE user_id = ?`)
	if filter.Folder != "" && filter.Folder != "all" {
		args = append(args, filter.Folder)
		b.WriteString(` AND folder = ?`)
	}
	if filter.Format != "" {
		args = append(args, filter.Format)
		b.WriteString(` AND instr(mime_type, ?) > 0`)
	}
	b.WriteString(` ORDER BY uploaded_at DESC, id DESC`)
	return b.String(), args
}

// FileTotalsByUser aggregates count and size of the user's files.
func (s *Store) FileTotalsByUser(ctx context.Context, userID string) (*domain.FileTotals, error) {
	var totals domain.FileTotals
	err := s.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM files WHERE user_id = ?`, userID,
	).Scan(&totals.Files, &totals.Bytes)
	if err != nil {
		return nil, classify("file_totals", err)
	}
	return &totals, nil
}

// AppendActivity inserts an activity.
func (s *Store) AppendActivity(ctx context.Context, a *domain.Activity) error {
	data := a.Data
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode activity data: %w", err)
	}
	_, err = s.db.db.ExecContext(ctx,
		`INSERT INTO activities (id, action, data, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, string(a.Action), string(raw), toNanos(a.Timestamp),
	)
	return classify("append_activity", err)
}

// IncrementUsage atomically adds the deltas in a single UPDATE.
func (s *Store) IncrementUsage(ctx context.Context, userID string, deltaBytes, deltaRequests int64) error {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE users
		SET usage_storage = usage_storage + ?,
			usage_requests = usage_requests + ?,
			updated_at = ?
		WHERE id = ?`,
		deltaBytes, deltaRequests, toNanos(time.Now().UTC()), userID,
	)
	if err != nil {
		return classify("increment_usage", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("increment_usage", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (*domain.File, error) {
	var (
		f             domain.File
		width, height sql.NullInt64
		rawTags       string
		uploadedAt    int64
	)
	err := row.Scan(
		&f.ID, &f.UserID, &f.OriginalName, &f.RemoteID, &f.URL, &f.Size, &f.MimeType, &f.Format,
		&width, &height, &f.Checksum, &f.Folder, &rawTags, &f.Storage, &uploadedAt,
	)
	if err != nil {
		return nil, err
	}
	if width.Valid {
		w := int(width.Int64)
		f.Width = &w
	}
	if height.Valid {
		h := int(height.Int64)
		f.Height = &h
	}
	if err := json.Unmarshal([]byte(rawTags), &f.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	f.UploadedAt = fromNanos(uploadedAt)
	return &f, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// Ensure Store implements the remote store interfaces.
var (
	_ store.PrimaryStore = (*Store)(nil)
	_ store.Provisioner  = (*Store)(nil)
)
