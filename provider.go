package genflow

import (
	"context"

	"github.com/Desarso/genflow/models"
)

// Provider is a model backend speaking the canonical representation. Each
// implementation owns the translation to and from its wire format; callers
// never see provider-specific shapes.
type Provider interface {
	Name() string
	Generate(ctx context.Context, request *models.Generate_Request) (*models.Generate_Response, error)
	GenerateStream(ctx context.Context, request *models.Generate_Request) (<-chan *models.Generate_Response, <-chan error)
	CountTokens(ctx context.Context, request *models.Generate_Request) (int, error)
}
