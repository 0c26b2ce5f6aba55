package migrations

import (
	"github.com/blindrelay/blindrelay/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_campaigns",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.CampaignModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_campaigns_created_at ON campaigns (created_at DESC)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.CampaignModel{})
			},
		},
		{
			ID: "000002_create_campaign_tokens",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.CampaignTokenModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_campaign_tokens_campaign_id ON campaign_tokens (campaign_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.CampaignTokenModel{})
			},
		},
		{
			ID: "000003_create_replies",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.ReplyModel{}); err != nil {
					return err
				}
				indexes := []string{
					// Backs the webhook's atomic insert-if-absent dedup.
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_replies_message_id ON replies (message_id)`,
					`CREATE INDEX IF NOT EXISTS idx_replies_received_at ON replies (received_at DESC)`,
					`CREATE INDEX IF NOT EXISTS idx_replies_campaign_id ON replies (campaign_id) WHERE campaign_id IS NOT NULL`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.ReplyModel{})
			},
		},
	})

	return m.Migrate()
}
