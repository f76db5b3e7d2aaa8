package health

import "context"

// DBPinger checks vector store availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// ProviderChecker checks a model provider (embedding or completion).
type ProviderChecker interface {
	HealthCheck(ctx context.Context) error
}
