package config

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"gardian_admin/internal/logger"
	"gardian_admin/internal/models"
)

// notifyTriggers makes every write to reports and users raise a notification that the live
// feed and the roster listen on.
var notifyTriggers = []string{
	`CREATE OR REPLACE FUNCTION notify_report_changes() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('report_changes', COALESCE(NEW.user_id, OLD.user_id) || '/' || COALESCE(NEW.id, OLD.id));
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS reports_notify ON reports`,
	`CREATE TRIGGER reports_notify AFTER INSERT OR UPDATE OR DELETE ON reports
	FOR EACH ROW EXECUTE FUNCTION notify_report_changes()`,
	`CREATE OR REPLACE FUNCTION notify_user_changes() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('user_changes', COALESCE(NEW.id, OLD.id));
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS users_notify ON users`,
	`CREATE TRIGGER users_notify AFTER INSERT OR UPDATE OR DELETE ON users
	FOR EACH ROW EXECUTE FUNCTION notify_user_changes()`,
}

// DSN builds the postgres connection string from the DB_* variables.
func DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "password"),
		getEnv("DB_NAME", "gardian"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_SSLMODE", "disable"),
		getEnv("DB_TIMEZONE", "UTC"),
	)
}

// InitDB opens the postgres connection, migrates the document tables and installs the change
// notification triggers.
func InitDB() (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(DSN()), &gorm.Config{
		Logger: logger.GormLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.User{}, &models.Report{}, &models.Identity{}); err != nil {
		return nil, fmt.Errorf("auto-migration failed: %w", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS identities_email_key ON identities (LOWER(email)) WHERE email <> ''`).Error; err != nil {
		return nil, fmt.Errorf("identity email index: %w", err)
	}
	for _, stmt := range notifyTriggers {
		if err := db.Exec(stmt).Error; err != nil {
			return nil, fmt.Errorf("install notify triggers: %w", err)
		}
	}
	log.Println("database migrated")
	return db, nil
}
