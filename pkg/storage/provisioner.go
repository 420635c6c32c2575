package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/oarkflow/errors"
	"github.com/oarkflow/log"

	"github.com/oarkflow/sensorbridge/pkg/resilience"
)

// Column families, one per room. The set is fixed at provisioning time;
// adding a room means redeploying the schema.
var columnFamilies = []string{"bathroom", "kitchen", "room1", "room2", "room3", "toilet"}

const (
	createPollAttempts = 5
	createPollDelay    = 2 * time.Second
)

// DefaultProvisionPolicy absorbs the slow cluster-startup window: a fresh
// Cassandra node can reject schema changes for minutes while it initializes,
// so the schedule stretches well past that before giving up.
var DefaultProvisionPolicy = resilience.Policy{
	MaxAttempts: 21,
	BaseDelay:   10 * time.Second,
	Backoff:     resilience.Exponential,
}

// Provisioner creates the destination keyspace and table if they are
// missing. Calling it repeatedly is safe and a no-op once the table exists.
type Provisioner struct {
	store  *Store
	policy resilience.Policy
	logger *log.Logger

	pollAttempts int
	pollDelay    time.Duration
}

func NewProvisioner(store *Store, policy resilience.Policy, logger *log.Logger) *Provisioner {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &Provisioner{
		store:        store,
		policy:       policy,
		logger:       logger,
		pollAttempts: createPollAttempts,
		pollDelay:    createPollDelay,
	}
}

// EnsureSchema checks for the table first and creates it if absent. Every
// failure class is retried identically through the policy; after the create
// call, existence is polled for a short while to ride out schema-agreement
// lag before declaring success or permanent failure.
func (p *Provisioner) EnsureSchema(ctx context.Context) error {
	created := false
	err := p.policy.Do(ctx, p.logger, "ensure schema", func() error {
		exists, err := p.tableExists(ctx)
		if err != nil {
			return err
		}
		if exists {
			p.logger.Info().Str("table", p.store.table).Msg("destination table already exists")
			return nil
		}
		if err := p.createSchema(ctx); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("schema provisioning failed after %d attempts: %w", p.policy.MaxAttempts, err)
	}
	if !created {
		return nil
	}
	for i := 0; i < p.pollAttempts; i++ {
		exists, err := p.tableExists(ctx)
		if err == nil && exists {
			p.logger.Info().Str("table", p.store.table).Int("rooms", len(columnFamilies)).Msg("destination table verified")
			return nil
		}
		if err != nil {
			p.logger.Warn().Err(err).Msg("table existence check failed, polling again")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollDelay):
		}
	}
	return errors.New("table did not become visible after creation")
}

func (p *Provisioner) tableExists(ctx context.Context) (bool, error) {
	var name string
	err := p.store.exec.scanOne(ctx,
		"SELECT table_name FROM system_schema.tables WHERE keyspace_name = ? AND table_name = ?",
		[]any{p.store.keyspace, p.store.table}, &name)
	if err == gocql.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provisioner) createSchema(ctx context.Context) error {
	p.logger.Info().Str("keyspace", p.store.keyspace).Str("table", p.store.table).
		Str("rooms", strings.Join(columnFamilies, ",")).Msg("creating destination schema")
	keyspaceStmt := fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}",
		p.store.keyspace)
	if err := p.store.exec.exec(ctx, keyspaceStmt); err != nil {
		return err
	}
	// Row key = entity id; (room, sensor) clustering mirrors the room
	// column families of the original wide-column layout, keeping each
	// room's cells contiguous within the row.
	tableStmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s.%s (id text, room text, sensor text, value text, PRIMARY KEY ((id), room, sensor))",
		p.store.keyspace, p.store.table)
	return p.store.exec.exec(ctx, tableStmt)
}
