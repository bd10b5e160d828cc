package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apikeydomain "github.com/localcard/localcard/internal/apikey/domain"
)

const (
	demoMerchantID = "merchant_demo"
	demoKeyName    = "demo"
)

// EnsureDemoMerchant seeds an API key for the demo merchant so a fresh
// development database is immediately usable. The raw key is logged once;
// only its hash is stored.
func EnsureDemoMerchant(db *gorm.DB, log *zap.Logger) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing apikeydomain.APIKey
		err := tx.WithContext(ctx).
			Where("merchant_id = ? AND name = ?", demoMerchantID, demoKeyName).
			First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		raw, hash, err := apikeydomain.GenerateAPIKey()
		if err != nil {
			return err
		}
		key := apikeydomain.APIKey{
			ID:         node.Generate(),
			MerchantID: demoMerchantID,
			Name:       demoKeyName,
			KeyHash:    hash,
			IsActive:   true,
			CreatedAt:  time.Now().UTC(),
		}
		if err := tx.WithContext(ctx).Create(&key).Error; err != nil {
			return err
		}

		if log != nil {
			log.Info("seeded demo merchant api key",
				zap.String("merchant_id", demoMerchantID),
				zap.String("api_key", raw),
			)
		}
		return nil
	})
}
