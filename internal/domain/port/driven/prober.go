package driven

import (
	"context"

	"github.com/planhub/planhub/internal/domain/model"
)

// ConnectionProber checks whether the external work-tracking service is
// reachable with the given credential. Implementations perform a lightweight
// authenticated request only; they never call the service's actual API
// surface. A nil error means reachable and authenticated.
type ConnectionProber interface {
	Probe(ctx context.Context, orgURL, secret string, policy model.RetryPolicy) error
}
