package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm/logger"
)

type accessRow struct {
	ID   uint
	Path string
}

func TestOpenPostgres_Pool(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	mock.ExpectPing()
	p, err := OpenPostgres(postgres.New(postgres.Config{Conn: db}),
		WithPool(8, 3),
		WithQueryLog(logger.Silent),
	)
	require.NoError(t, err)

	sqlDB, err := p.DB.DB()
	require.NoError(t, err)
	assert.Equal(t, 3, sqlDB.Stats().MaxOpenConnections)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, p.Ping(context.Background()))

	mock.ExpectClose()
	require.NoError(t, p.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenPostgres_MigrationFailure(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)

	_, err = OpenPostgres(postgres.New(postgres.Config{Conn: db}),
		WithQueryLog(logger.Silent),
		WithMigration(&accessRow{}),
	)
	assert.ErrorContains(t, err, "failed to migrate request log tables")
}
