package domain

import (
	"context"
	"errors"
)

var ErrConvenioNotFound = errors.New("convenio not found")

// ConvenioProvider reads the employer agreement snapshot. Convênios are
// administered outside the engine; every calculation receives an immutable
// copy by value.
type ConvenioProvider interface {
	Get(ctx context.Context, convenioID string) (ConvenioConfig, error)
}
