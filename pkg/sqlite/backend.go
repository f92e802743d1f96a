// Package sqlite is the public entry point for the SQLite vault backend.
// It exposes the constructor while the implementation stays internal.
package sqlite

import (
	"go.uber.org/zap"

	"github.com/mesh-intelligence/lorevault/internal/sqlite"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

// NewVault creates an unattached SQLite vault that logs to log. A nil
// logger discards everything.
//
// Example:
//
//	vault := sqlite.NewVault(nil)
//	if err := vault.Attach(types.DefaultConfig(dir)); err != nil {
//	    return err
//	}
//	defer vault.Detach()
func NewVault(log *zap.Logger) types.Vault {
	return sqlite.NewBackend(sqlite.WithLogger(log))
}
