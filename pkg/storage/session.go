package storage

import (
	"context"
	"time"

	"github.com/gocql/gocql"
	"github.com/oarkflow/log"

	"github.com/oarkflow/sensorbridge/pkg/config"
)

// executor is the narrow slice of a CQL session the store needs. Tests
// substitute an in-memory implementation.
type executor interface {
	exec(ctx context.Context, stmt string, values ...any) error
	scanOne(ctx context.Context, stmt string, values []any, dest ...any) error
	closed() bool
	close()
}

type gocqlExecutor struct {
	session *gocql.Session
}

func (g *gocqlExecutor) exec(ctx context.Context, stmt string, values ...any) error {
	return g.session.Query(stmt, values...).WithContext(ctx).Exec()
}

func (g *gocqlExecutor) scanOne(ctx context.Context, stmt string, values []any, dest ...any) error {
	return g.session.Query(stmt, values...).WithContext(ctx).Scan(dest...)
}

func (g *gocqlExecutor) closed() bool {
	return g.session == nil || g.session.Closed()
}

func (g *gocqlExecutor) close() {
	if g.session != nil {
		g.session.Close()
	}
}

// Open connects to the Cassandra cluster described by cfg. The session is a
// single long-lived resource shared by the provisioner and the writer for
// the whole pipeline run. Transient RPC errors are retried by the client's
// own retry policy; keyspace creation happens later, so the session is not
// bound to one.
func Open(cfg config.StoreConfig, logger *log.Logger) (*Store, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port != 0 {
		cluster.Port = cfg.Port
	}
	cluster.Consistency = gocql.One
	cluster.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	cluster.ConnectTimeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: cfg.RetryCount}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}
	return newStore(&gocqlExecutor{session: session}, cfg.Keyspace, cfg.Table, logger), nil
}
