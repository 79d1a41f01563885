package enrichment

import (
	"context"

	"github.com/target/soc-core/internal/domain/model"
)

// Provider queries one threat-intelligence source for a single indicator.
type Provider interface {
	Name() string
	Enrich(ctx context.Context, indicator string, indicatorType model.IOCType) (*model.ProviderHit, error)
}
