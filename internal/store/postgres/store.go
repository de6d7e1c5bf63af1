package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/cloudidada/internal/domain"
	"github.com/prn-tf/cloudidada/internal/store"
)

const userColumns = `id, user_name, email, password_hash, api_key, plan,
	usage_storage, usage_requests, auto_generated, created_at, updated_at`

const fileColumns = `id, user_id, original_name, remote_id, url, size, mime_type, format,
	width, height, checksum, folder, tags, storage, uploaded_at`

// Store implements store.PrimaryStore on PostgreSQL.
type Store struct {
	db     *DB
	logger zerolog.Logger
}

// NewStore creates a Store on an open pool.
func NewStore(db *DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("store", "postgres").Logger(),
	}
}

// Name returns the provider name.
func (s *Store) Name() string {
	return "postgres"
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Provision applies the embedded schema.
func (s *Store) Provision(ctx context.Context) error {
	if err := s.db.Migrate(ctx); err != nil {
		return classify("provision", err)
	}
	return nil
}

// =============================================================================
// Users
// =============================================================================

// GetUserByID retrieves a user by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.queryUser(ctx, "get_user_by_id", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetUserByAPIKey retrieves a user by API key.
func (s *Store) GetUserByAPIKey(ctx context.Context, apiKey string) (*domain.User, error) {
	return s.queryUser(ctx, "get_user_by_api_key", `SELECT `+userColumns+` FROM users WHERE api_key = $1`, apiKey)
}

// GetUserByEmail retrieves a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.queryUser(ctx, "get_user_by_email", `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (s *Store) queryUser(ctx context.Context, op, query string, arg any) (*domain.User, error) {
	var (
		u    domain.User
		plan string
	)
	err := s.db.Pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.UserName, &u.Email, &u.PasswordHash, &u.APIKey, &plan,
		&u.Usage.Storage, &u.Usage.Requests, &u.AutoGenerated, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, classify(op, err)
	}
	u.Plan = domain.Plan(plan)
	return &u, nil
}

// PutUser upserts a user by id.
func (s *Store) PutUser(ctx context.Context, u *domain.User) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			user_name = EXCLUDED.user_name,
			email = EXCLUDED.email,
			password_hash = EXCLUDED.password_hash,
			api_key = EXCLUDED.api_key,
			plan = EXCLUDED.plan,
			usage_storage = EXCLUDED.usage_storage,
			usage_requests = EXCLUDED.usage_requests,
			auto_generated = EXCLUDED.auto_generated,
			updated_at = EXCLUDED.updated_at`,
		u.ID, u.UserName, u.Email, u.PasswordHash, u.APIKey, string(u.Plan),
		u.Usage.Storage, u.Usage.Requests, u.AutoGenerated, u.CreatedAt, u.UpdatedAt,
	)
	return classify("put_user", err)
}

// =============================================================================
// Files
// =============================================================================

// GetFile retrieves a file record by id.
func (s *Store) GetFile(ctx context.Context, id string) (*domain.File, error) {
	row := s.db.Pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id)
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

	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			original_name = EXCLUDED.original_name,
			remote_id = EXCLUDED.remote_id,
			url = EXCLUDED.url,
			size = EXCLUDED.size,
			mime_type = EXCLUDED.mime_type,
			format = EXCLUDED.format,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			checksum = EXCLUDED.checksum,
			folder = EXCLUDED.folder,
			tags = EXCLUDED.tags,
			storage = EXCLUDED.storage`,
		f.ID, f.UserID, f.OriginalName, f.RemoteID, f.URL, f.Size, f.MimeType, f.Format,
		f.Width, f.Height, f.Checksum, f.Folder, tags, f.Storage, f.UploadedAt,
	)
	return classify("put_file", err)
}

// ListFilesByUser queries the user's files, newest first.
func (s *Store) ListFilesByUser(ctx context.Context, userID string, filter domain.FileFilter) ([]*domain.File, error) {
	const op = "list_files"

	query, args := fileListQuery(userID, filter)
	rows, err := s.db.Pool.Query(ctx, query, args...)
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

	b.WriteString(`SELECT ` + fileColumns + ` FROM files WHERE user_id = $1`)
	if filter.Folder != "" && filter.Folder != "all" {
		args = append(args, filter.Folder)
		fmt.Fprintf(&b, ` AND folder = $%d`, len(args))
	}
	if filter.Format != "" {
		args = append(args, filter.Format)
		fmt.Fprintf(&b, ` AND strpos(mime_type, $%d) > 0`, len(args))
	}
	b.WriteString(` ORDER BY uploaded_at DESC, id DESC`)
	return b.String(), args
}

// FileTotalsByUser aggregates count and size of the user's files.
func (s *Store) FileTotalsByUser(ctx context.Context, userID string) (*domain.FileTotals, error) {
	var totals domain.FileTotals
	err := s.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM files WHERE user_id = $1`, userID,
	).Scan(&totals.Files, &totals.Bytes)
	if err != nil {
		return nil, classify("file_totals", err)
	}
	return &totals, nil
}

// =============================================================================
// Activities and usage
// =============================================================================

// AppendActivity inserts an activity.
func (s *Store) AppendActivity(ctx context.Context, a *domain.Activity) error {
	data := a.Data
	if data == nil {
		data = map[string]any{}
	}
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO activities (id, action, data, created_at) VALUES ($1, $2, $3, $4)`,
		a.ID, string(a.Action), data, a.Timestamp,
	)
	return classify("append_activity", err)
}

// IncrementUsage atomically adds the deltas in a single UPDATE.
func (s *Store) IncrementUsage(ctx context.Context, userID string, deltaBytes, deltaRequests int64) error {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE users
		SET usage_storage = usage_storage + $2,
			usage_requests = usage_requests + $3,
			updated_at = $4
		WHERE id = $1`,
		userID, deltaBytes, deltaRequests, time.Now().UTC(),
	)
	if err != nil {
		return classify("increment_usage", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanFile(row pgx.Row) (*domain.File, error) {
	var (
		f             domain.File
		width, height *int32
	)
	err := row.Scan(
		&f.ID, &f.UserID, &f.OriginalName, &f.RemoteID, &f.URL, &f.Size, &f.MimeType, &f.Format,
		&width, &height, &f.Checksum, &f.Folder, &f.Tags, &f.Storage, &f.UploadedAt,
	)
	if err != nil {
		return nil, err
	}
	if width != nil {
		w := int(*width)
		f.Width = &w
	}
	if height != nil {
		h := int(*height)
		f.Height = &h
	}
	return &f, nil
}

// Ensure Store implements the remote store interfaces.
var (
	_ store.PrimaryStore = (*Store)(nil)
	_ store.Provisioner  = (*Store)(nil)
)
