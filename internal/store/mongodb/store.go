// Package mongodb provides the MongoDB implementation of the remote document store.
package mongodb

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/prn-tf/cloudidada/internal/domain"
	"github.com/prn-tf/cloudidada/internal/store"
)

// Collection names.
const (
	UsersCollection      = "users"
	FilesCollection      = "files"
	ActivitiesCollection = "activities"
)

// Config holds MongoDB connection settings.
type Config struct {
	// URI is the connection string.
	URI string

	// Database is the database name.
	Database string

	// Timeout bounds each operation. Zero disables the bound.
	Timeout time.Duration

	// RequireProvisioned makes operations on a missing collection fail with
	// a not-provisioned error instead of implicitly creating it.
	RequireProvisioned bool
}

// Store implements store.PrimaryStore on MongoDB.
type Store struct {
	client             *mongo.Client
	db                 *mongo.Database
	timeout            time.Duration
	requireProvisioned bool
	logger             zerolog.Logger

	// provisioned caches collections known to exist.
	provisioned sync.Map
}

// Connect creates a client and returns a Store. The driver connects lazily;
// use Ping to verify connectivity.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.Timeout > 0 {
		opts.SetServerSelectionTimeout(cfg.Timeout).SetConnectTimeout(cfg.Timeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create MongoDB client: %w", err)
	}

	logger.Info().
		Str("database", cfg.Database).
		Bool("require_provisioned", cfg.RequireProvisioned).
		Msg("MongoDB client created")

	return &Store{
		client:             client,
		db:                 client.Database(cfg.Database),
		timeout:            cfg.Timeout,
		requireProvisioned: cfg.RequireProvisioned,
		logger:             logger.With().Str("store", "mongodb").Logger(),
	}, nil
}

// Name returns the provider name.
func (s *Store) Name() string {
	return "mongodb"
}

// Ping checks connectivity to the primary.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info().Msg("closing MongoDB connection")
	return s.client.Disconnect(ctx)
}

// Provision creates the collections and their indexes.
func (s *Store) Provision(ctx context.Context) error {
	for _, name := range []string{UsersCollection, FilesCollection, ActivitiesCollection} {
		if err := s.db.CreateCollection(ctx, name); err != nil && !hasCode(err, codeNamespaceExists) {
			return classify("provision", err)
		}
		s.provisioned.Store(name, true)
	}

	indexes := map[string][]mongo.IndexModel{
		UsersCollection: {
			{Keys: bson.D{{Key: "apiKey", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		FilesCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "uploadedAt", Value: -1}}},
		},
		ActivitiesCollection: {
			{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		},
	}
	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return classify("provision", err)
		}
	}

	s.logger.Info().Msg("collections provisioned")
	return nil
}

// =============================================================================
// Users
// =============================================================================

// GetUserByID retrieves a user by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.findUser(ctx, "get_user_by_id", bson.M{"_id": id})
}

// GetUserByAPIKey retrieves a user by API key.
func (s *Store) GetUserByAPIKey(ctx context.Context, apiKey string) (*domain.User, error) {
	return s.findUser(ctx, "get_user_by_api_key", bson.M{"apiKey": apiKey})
}

// GetUserByEmail retrieves a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.findUser(ctx, "get_user_by_email", bson.M{"email": email})
}

func (s *Store) findUser(ctx context.Context, op string, filter bson.M) (*domain.User, error) {
	coll, err := s.collection(ctx, op, UsersCollection)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var user domain.User
	if err := coll.FindOne(ctx, filter).Decode(&user); err != nil {
		return nil, classify(op, err)
	}
	return &user, nil
}

// PutUser upserts a user by id.
func (s *Store) PutUser(ctx context.Context, user *domain.User) error {
	return s.replace(ctx, "put_user", UsersCollection, user.ID, user)
}

// =============================================================================
// Files
// =============================================================================

// GetFile retrieves a file record by id.
func (s *Store) GetFile(ctx context.Context, id string) (*domain.File, error) {
	const op = "get_file"

	coll, err := s.collection(ctx, op, FilesCollection)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var file domain.File
	if err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&file); err != nil {
		return nil, classify(op, err)
	}
	return &file, nil
}

// PutFile upserts a file record by id.
func (s *Store) PutFile(ctx context.Context, file *domain.File) error {
	return s.replace(ctx, "put_file", FilesCollection, file.ID, file)
}

// ListFilesByUser queries the user's files, newest first.
func (s *Store) ListFilesByUser(ctx context.Context, userID string, filter domain.FileFilter) ([]*domain.File, error) {
	const op = "list_files"

	coll, err := s.collection(ctx, op, FilesCollection)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cursor, err := coll.Find(ctx, fileQuery(userID, filter),
		options.Find().SetSort(bson.D{{Key: "uploadedAt", Value: -1}}))
	if err != nil {
		return nil, classify(op, err)
	}
	defer cursor.Close(ctx)

	files := make([]*domain.File, 0)
	if err := cursor.All(ctx, &files); err != nil {
		return nil, classify(op, err)
	}
	return files, nil
}

// FileTotalsByUser aggregates count and size of the user's files.
func (s *Store) FileTotalsByUser(ctx context.Context, userID string) (*domain.FileTotals, error) {
	const op = "file_totals"

	coll, err := s.collection(ctx, op, FilesCollection)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"userId": userID}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"files": bson.M{"$sum": 1},
			"bytes": bson.M{"$sum": "$size"},
		}}},
	}

	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, classify(op, err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Files int64 `bson:"files"`
		Bytes int64 `bson:"bytes"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, classify(op, err)
	}

	totals := &domain.FileTotals{}
	if len(rows) > 0 {
		totals.Files = rows[0].Files
		totals.Bytes = rows[0].Bytes
	}
	return totals, nil
}

// fileQuery builds the listing filter. Format is a substring match on the MIME type.
func fileQuery(userID string, filter domain.FileFilter) bson.M {
	q := bson.M{"userId": userID}
	if filter.Folder != "" && filter.Folder != "all" {
		q["folder"] = filter.Folder
	}
	if filter.Format != "" {
		q["mimetype"] = bson.M{"$regex": regexp.QuoteMeta(filter.Format)}
	}
	return q
}

// =============================================================================
// Activities and usage
// =============================================================================

// AppendActivity inserts an activity.
func (s *Store) AppendActivity(ctx context.Context, activity *domain.Activity) error {
	const op = "append_activity"

	coll, err := s.collection(ctx, op, ActivitiesCollection)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := coll.InsertOne(ctx, activity); err != nil {
		return classify(op, err)
	}
	return nil
}

// IncrementUsage applies $inc on the usage counters. The server applies it atomically.
func (s *Store) IncrementUsage(ctx context.Context, userID string, deltaBytes, deltaRequests int64) error {
	const op = "increment_usage"

	coll, err := s.collection(ctx, op, UsersCollection)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := coll.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$inc": bson.M{"usage.storage": deltaBytes, "usage.requests": deltaRequests},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return classify(op, err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Store) replace(ctx context.Context, op, collection, id string, doc any) error {
	coll, err := s.collection(ctx, op, collection)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true)); err != nil {
		return classify(op, err)
	}
	return nil
}

// collection returns the named collection. When provisioning is required,
// a missing collection yields a NamespaceNotFound provider error.
func (s *Store) collection(ctx context.Context, op, name string) (*mongo.Collection, error) {
	if !s.requireProvisioned {
		return s.db.Collection(name), nil
	}
	if _, ok := s.provisioned.Load(name); ok {
		return s.db.Collection(name), nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	names, err := s.db.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return nil, classify(op, err)
	}
	if len(names) == 0 {
		return nil, &store.ProviderError{
			Provider:     "mongodb",
			Op:           op,
			Code:         store.CodeNotProvisioned,
			ProviderCode: fmt.Sprint(codeNamespaceNotFound),
			Err:          fmt.Errorf("collection %q does not exist", name),
		}
	}

	s.provisioned.Store(name, true)
	return s.db.Collection(name), nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Ensure Store implements the remote store interfaces.
var (
	_ store.PrimaryStore = (*Store)(nil)
	_ store.Provisioner  = (*Store)(nil)
)
