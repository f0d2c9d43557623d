package database

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/doyein2020/gats-ussd/internal/config"
)

var DB *gorm.DB

// Connect opens the PostgreSQL connection. Supports Cloud SQL unix sockets
// when INSTANCE_CONNECTION_NAME is set, TCP otherwise.
func Connect(cfg *config.Config) error {
	var dsn string
	if cfg.InstanceConnectionName != "" {
		// Production: connect via unix socket
		dsn = fmt.Sprintf("host=/cloudsql/%s user=%s password=%s dbname=%s sslmode=disable",
			cfg.InstanceConnectionName, cfg.DBUser, cfg.DBPass, cfg.DBName)
		log.Printf("Connecting to Cloud SQL via socket: %s", cfg.InstanceConnectionName)
	} else {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			cfg.DBHost, cfg.DBUser, cfg.DBPass, cfg.DBName, cfg.DBPort)
		log.Printf("Connecting to PostgreSQL at %s:%s", cfg.DBHost, cfg.DBPort)
	}

	var err error
	// TranslateError turns driver duplicate-key failures into
	// gorm.ErrDuplicatedKey, which the session store relies on.
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	log.Println("✅ Database connected successfully!")
	return nil
}
