package postgres

import (
	"gorm.io/gorm"

	"github.com/cxdexx/codex-passport/internal/ports"
)

// Repositories bundles the storage adapters behind their ports.
type Repositories struct {
	Ledger ports.PassportLedger
	Outbox ports.OutboxRepository
}

// NewRepositories wires the gorm handle into the concrete adapters. limits
// sets the usage allowance stamped onto newly created passports.
func NewRepositories(db *gorm.DB, limits TierLimits) Repositories {
	return Repositories{
		Ledger: &passportLedger{db: db, limits: limits},
		Outbox: &outboxRepository{db: db},
	}
}
