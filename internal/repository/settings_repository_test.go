package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigwatch/rigwatch/internal/domain"
)

func newSettingsRepo(t *testing.T) (SettingsRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewSettingsRepository(db, testLogger()), mock
}

func TestSettingsRepository_GetAlertSettings_DefaultOnMissing(t *testing.T) {
	repo, mock := newSettingsRepo(t)

	mock.ExpectQuery("SELECT doc").
		WithArgs("u1", "alerts").
		WillReturnError(sql.ErrNoRows)

	settings, err := repo.GetAlertSettings(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, settings.Enabled, "alerts default to enabled")
	assert.Empty(t, settings.ChatID)
}

func TestSettingsRepository_GetPayoutSettings_ProviderDefault(t *testing.T) {
	repo, mock := newSettingsRepo(t)

	doc, _ := json.Marshal(map[string]any{"threshold": 0.01, "payoutAddress": "bc1qaddr"})
	mock.ExpectQuery("SELECT doc").
		WithArgs("u1", "payout").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(doc))

	settings, err := repo.GetPayoutSettings(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderNowPayments, settings.Provider)
	assert.Equal(t, 0.01, settings.Threshold)
}

func TestSettingsRepository_AddTombstones_NormalizesIDs(t *testing.T) {
	repo, mock := newSettingsRepo(t)

	mock.ExpectExec("INSERT INTO tombstones").
		WithArgs("u1", "rig-abc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tombstones").
		WithArgs("u1", "rig-def").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.AddTombstones(context.Background(), "u1", "RIG-ABC", "  Rig-DEF  ", "   ")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsRepository_ListTombstones(t *testing.T) {
	repo, mock := newSettingsRepo(t)

	mock.ExpectQuery("SELECT rig_id").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"rig_id"}).AddRow("rig-a").AddRow("rig-b"))

	ids, err := repo.ListTombstones(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"rig-a", "rig-b"}, ids)
}

func TestSettingsRepository_Credentials_RoundTrip(t *testing.T) {
	repo, mock := newSettingsRepo(t)

	mock.ExpectExec("INSERT INTO user_settings").
		WithArgs("u1", "credentials", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SetCredentials(context.Background(), "u1", domain.Credentials{HiveOSToken: "tok"})
	require.NoError(t, err)

	doc, _ := json.Marshal(domain.Credentials{HiveOSToken: "tok"})
	mock.ExpectQuery("SELECT doc").
		WithArgs("u1", "credentials").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(doc))

	creds, err := repo.GetCredentials(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, creds.HasHiveOS())
	assert.False(t, creds.HasNiceHash())
}
