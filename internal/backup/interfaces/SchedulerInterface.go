package interfaces

import (
	"cloutdash/internal/syncer"
	"context"
)

type SchedulerInterface interface {
	Init()
	Stop()
	Restore(ctx context.Context) (*syncer.PasteResult, error)
	Persist() error
}
