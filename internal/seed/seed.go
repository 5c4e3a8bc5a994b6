package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	providerdomain "github.com/simbridge/simbridge/internal/provider/domain"
	"gorm.io/gorm"
)

const (
	sandboxSlug     = "sandbox"
	sandboxName     = "Sandbox"
	sandboxPriority = 1
)

// EnsureSandboxProvider seeds the sandbox vendor for startup bootstrap, so a
// fresh development database can fulfill an order without any operator setup.
func EnsureSandboxProvider(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(9)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing providerdomain.Provider
		if err := tx.Where("slug = ?", sandboxSlug).Limit(1).Find(&existing).Error; err != nil {
			return err
		}
		if existing.ID != 0 {
			return nil
		}

		now := time.Now().UTC()
		return tx.Create(&providerdomain.Provider{
			ID:           node.Generate(),
			Name:         sandboxName,
			Slug:         sandboxSlug,
			Priority:     sandboxPriority,
			IsActive:     true,
			CircuitState: providerdomain.CircuitClosed,
			SuccessRate:  100,
			CreatedAt:    now,
			UpdatedAt:    now,
		}).Error
	})
}
