package pg

import (
	"fmt"

	"github.com/nextlevelbuilder/superbrain/internal/store"
)

// NewPGStores creates all stores backed by Postgres (managed mode).
func NewPGStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	status, err := CheckSchema(db)
	if err != nil {
		return nil, fmt.Errorf("check schema: %w", err)
	}
	if !status.Compatible {
		return nil, fmt.Errorf("incompatible schema:\n%s", FormatSchemaError(status))
	}

	return &store.Stores{
		Settings:   NewPGSettingsStore(db),
		Gating:     NewPGGatingStore(db),
		Providers:  NewPGProviderStore(db),
		Usage:      NewPGUsageStore(db),
		Failover:   NewPGFailoverStore(db),
		Executions: NewPGExecStore(db),
		Workspaces: NewPGWorkspaceStore(db),
		Flows:      NewPGFlowStore(db),
		Agents:     NewPGAgentStore(db),
		Messages:   NewPGMessageStore(db),
		MediaCache: NewPGMediaCacheStore(db),
		Delivery:   NewPGDeliveryStore(db),
	}, nil
}
