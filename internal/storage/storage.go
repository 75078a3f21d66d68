package storage

import (
	"context"

	"github.com/iac-sandbox/stackd/internal/domain"
)

// Storage defines the interface for the storage layer.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// API Keys
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
	CountAPIKeys(ctx context.Context) (int, error)

	// Deployment history
	CreateDeployment(ctx context.Context, record *domain.DeploymentRecord) error
	UpdateDeployment(ctx context.Context, record *domain.DeploymentRecord) error
	GetDeployment(ctx context.Context, id string) (*domain.DeploymentRecord, error)
	ListDeploymentsForStack(ctx context.Context, stackName string, limit, offset int) ([]*domain.DeploymentRecord, error)
	ListDeployments(ctx context.Context, limit, offset int) ([]*domain.DeploymentRecord, error)
	DeleteDeploymentsForStack(ctx context.Context, stackName string) error
}
