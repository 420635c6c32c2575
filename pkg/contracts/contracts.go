package contracts

import (
	"context"

	"github.com/oarkflow/sensorbridge/pkg/entity"
)

// EntitySource pulls raw entities out of the context broker. A page fetch
// never fails: transport or status errors are logged by the implementation
// and surface as an empty page, which doubles as the pagination stop signal.
type EntitySource interface {
	FetchPage(ctx context.Context, entityType string, limit, offset int) []map[string]any
	CountByType(ctx context.Context, entityType string) int
	TestConnectivity(ctx context.Context) error
}

// RecordLoader persists parsed sensor records into the destination store.
type RecordLoader interface {
	Insert(ctx context.Context, rec *entity.SensorRecord) (bool, error)
	BatchInsert(ctx context.Context, recs []*entity.SensorRecord) int
	Close() error
}

// SchemaManager makes sure the destination schema exists before any writes.
type SchemaManager interface {
	EnsureSchema(ctx context.Context) error
}
