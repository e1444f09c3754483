package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-annotationcache/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore client.
type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	// CollectionPrefix is prepended to every collection name.
	CollectionPrefix string `yaml:"collection_prefix"`
}

// NewFirestoreClient creates a Firestore client using Application Default
// Credentials unless a credentials file is configured.
func NewFirestoreClient(ctx context.Context, cfg *FirestoreConfig, logger zerolog.Logger) (*firestore.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for Firestore client.")
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return client, nil
}

// FirestoreStore keeps documents in Firestore collections, one Firestore
// document per id.
type FirestoreStore struct {
	client *firestore.Client
	prefix string
	logger zerolog.Logger
	owned  bool
}

// NewFirestoreStore creates a FirestoreStore around an injected client. The
// client's lifecycle stays with the caller.
func NewFirestoreStore(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	logger.Info().Str("project_id", cfg.ProjectID).Str("collection_prefix", cfg.CollectionPrefix).Msg("FirestoreStore initialized.")
	return &FirestoreStore{
		client: client,
		prefix: cfg.CollectionPrefix,
		logger: logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

func (s *FirestoreStore) collection(name string) *firestore.CollectionRef {
	return s.client.Collection(s.prefix + name)
}

// FindByIDs fetches every id with a single batched GetAll. Ids that cannot
// name a Firestore document are absent from the result.
func (s *FirestoreStore) FindByIDs(ctx context.Context, collection string, ids []string) ([]types.Document, error) {
	col := s.collection(collection)
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range dedupe(ids) {
		if !validFirestoreID(id) {
			s.logger.Debug().Str("collection", collection).Msg("Skipping identifier that cannot name a Firestore document.")
			continue
		}
		refs = append(refs, col.Doc(id))
	}
	if len(refs) == 0 {
		return nil, nil
	}

	snaps, err := s.client.GetAll(ctx, refs)
	if err != nil {
		s.logger.Error().Err(err).Str("code", status.Code(err).String()).Str("collection", collection).Msg("Failed to get documents from Firestore.")
		return nil, fmt.Errorf("firestore GetAll for %s: %w", collection, err)
	}

	out := make([]types.Document, 0, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		out = append(out, types.Document(snap.Data()))
	}
	return out, nil
}

// UpsertMany writes docs through a BulkWriter and waits for every result.
func (s *FirestoreStore) UpsertMany(ctx context.Context, collection string, docs []types.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := requireIDs(docs); err != nil {
		return err
	}

	col := s.collection(collection)
	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		job, err := bw.Set(col.Doc(doc.ID()), map[string]any(doc))
		if err != nil {
			bw.End()
			return fmt.Errorf("firestore enqueue %s/%s: %w", collection, doc.ID(), err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			if status.Code(err) == codes.InvalidArgument {
				s.logger.Warn().Str("id", docs[i].ID()).Msg("Firestore rejected document.")
			}
			return fmt.Errorf("firestore set for %s/%s: %w", collection, docs[i].ID(), err)
		}
	}
	return nil
}

// Close closes the client only when the store created it.
func (s *FirestoreStore) Close() error {
	if !s.owned {
		s.logger.Info().Msg("FirestoreStore does not close the injected Firestore client.")
		return nil
	}
	return s.client.Close()
}

const maxFirestoreIDBytes = 1500

// validFirestoreID reports whether id is a legal Firestore document id.
func validFirestoreID(id string) bool {
	switch {
	case id == "", id == ".", id == "..":
		return false
	case len(id) > maxFirestoreIDBytes, !utf8.ValidString(id), strings.Contains(id, "/"):
		return false
	case len(id) >= 4 && strings.HasPrefix(id, "__") && strings.HasSuffix(id, "__"):
		return false
	}
	return true
}
