package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/edvin/jobrunner/internal/model"
	"github.com/edvin/jobrunner/internal/platform"
)

// APIKeyService manages API keys. The key hash is stored; the raw key is
// shown to the user exactly once at creation.
type APIKeyService struct {
	db DB
}

func NewAPIKeyService(db DB) *APIKeyService {
	return &APIKeyService{db: db}
}

// Create generates a new API key bound to a user name and its approver
// groups, stores the hash, and returns the model along with the raw key.
func (s *APIKeyService) Create(ctx context.Context, name, userName string, groups []string) (*model.APIKey, string, error) {
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}
	rawKey := "jrn_" + hex.EncodeToString(rawBytes)

	id := platform.NewID()
	hash := sha256.Sum256([]byte(rawKey))
	keyHash := hex.EncodeToString(hash[:])
	keyPrefix := rawKey[:12]

	if groups == nil {
		groups = []string{}
	}

	key := &model.APIKey{
		ID:        id,
		Name:      name,
		UserName:  userName,
		KeyPrefix: keyPrefix,
		Groups:    groups,
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO api_keys (id, name, user_name, key_hash, key_prefix, groups, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now()) RETURNING created_at`,
		id, name, userName, keyHash, keyPrefix, groups,
	).Scan(&key.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("insert api key: %w", err)
	}

	return key, rawKey, nil
}

func (s *APIKeyService) GetByID(ctx context.Context, id string) (*model.APIKey, error) {
	var k model.APIKey
	err := s.db.QueryRow(ctx,
		`SELECT id, name, user_name, key_prefix, groups, created_at, revoked_at
		 FROM api_keys WHERE id = $1`, id,
	).Scan(&k.ID, &k.Name, &k.UserName, &k.KeyPrefix, &k.Groups, &k.CreatedAt, &k.RevokedAt)
	if err != nil {
		return nil, notFound(err, "get api key %s", id)
	}
	return &k, nil
}

func (s *APIKeyService) List(ctx context.Context) ([]model.APIKey, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, user_name, key_prefix, groups, created_at, revoked_at
		 FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		var k model.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.UserName, &k.KeyPrefix, &k.Groups,
			&k.CreatedAt, &k.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return keys, nil
}

func (s *APIKeyService) Revoke(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}
	return nil
}
