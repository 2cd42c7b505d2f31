package migrations

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/broadcast-engine/internal/pkg/logger"
)

func TestNames_Sorted(t *testing.T) {
	names, err := Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_tenants_contacts.sql", "002_campaigns.sql", "003_queue.sql", "004_campaign_link_preview.sql"}, names)
}

func TestApply_SkipsRecorded(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	exists := regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(exists).WithArgs("001_tenants_contacts.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(exists).WithArgs("002_campaigns.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(exists).WithArgs("003_queue.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("003_queue.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(exists).WithArgs("004_campaign_link_preview.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	applied, err := Apply(context.Background(), db, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"003_queue.sql"}, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApply_RollsBackFailedFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("001_tenants_contacts.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	applied, err := Apply(context.Background(), db, logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_tenants_contacts.sql")
	assert.Empty(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}
