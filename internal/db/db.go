package db

import (
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/morphly-app/morphly/internal/artifact"
	"github.com/morphly-app/morphly/internal/chat"
	"github.com/morphly-app/morphly/internal/models"
)

func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	if err := Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	return gdb
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&chat.Chat{},
		&chat.Message{},
		&chat.Vote{},
		&chat.Stream{},
		&artifact.Document{},
	)
}
