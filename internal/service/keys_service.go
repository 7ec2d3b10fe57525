package service

import (
	"context"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/dvalenciano/igflow/internal/models"
	"github.com/dvalenciano/igflow/internal/repository"
)

const maxApiKeys = 10

type ApiKeyService interface {
	Validate(ctx context.Context, apiKey string) (bool, error)
	List(ctx context.Context) ([]*models.ApiKey, error)
	Create(ctx context.Context, label string) (*models.ApiKey, error)
	Remove(ctx context.Context, id int64) error
}

type apiKeyService struct {
	keys repository.ApiKeyRepository
}

func NewApiKeyService(keys repository.ApiKeyRepository) ApiKeyService {
	return &apiKeyService{keys: keys}
}

func (s *apiKeyService) Validate(ctx context.Context, apiKey string) (bool, error) {
	if apiKey == "" {
		return false, nil
	}
	return s.keys.Exists(ctx, apiKey)
}

func (s *apiKeyService) List(ctx context.Context) ([]*models.ApiKey, error) {
	return s.keys.List(ctx)
}

func (s *apiKeyService) Create(ctx context.Context, label string) (*models.ApiKey, error) {
	count, err := s.keys.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count >= maxApiKeys {
		return nil, fmt.Errorf("at most %d api keys are allowed", maxApiKeys)
	}

	raw, err := gonanoid.Generate("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789", 40)
	if err != nil {
		return nil, err
	}

	key := &models.ApiKey{Label: label, ApiKey: "igf_" + raw}
	id, err := s.keys.Create(ctx, key)
	if err != nil {
		return nil, err
	}
	key.ID = id
	return key, nil
}

func (s *apiKeyService) Remove(ctx context.Context, id int64) error {
	return s.keys.Remove(ctx, id)
}
