package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadharvest/leadharvest/internal/discovery"
)

var businessCols = []string{
	"id", "display_name", "normalized_name", "street", "locality",
	"postal_code", "dataset_id", "category_id", "external_id", "website",
	"email", "phone", "latitude", "longitude", "last_discovered", "completeness",
}

func incomingIdentity() discovery.BusinessIdentity {
	return discovery.BusinessIdentity{
		DisplayName:    "Bäckerei Müller",
		NormalizedName: "backerei-muller",
		Street:         "Hauptstraße 12",
		Locality:       "Berlin",
		DatasetID:      "ds-1",
		CategoryID:     "cat-food",
		ExternalID:     "ext-1",
		LastDiscovered: time.Unix(1760000000, 0).UTC(),
	}
}

func existingRow(id int64, externalID string) *pgxmock.Rows {
	return pgxmock.NewRows(businessCols).AddRow(
		id, "Bäckerei Müller", "backerei-muller", "Hauptstraße 12", "Berlin",
		"", "ds-1", "cat-food", externalID, "", "", "",
		(*float64)(nil), (*float64)(nil), time.Unix(1750000000, 0).UTC(), 20,
	)
}

func TestUpsertInsertsWhenNoMatch(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectBegin()
	// External-id probe finds nothing, then the name probe, then the insert.
	mock.ExpectQuery(`SELECT`).
		WithArgs("ds-1", "ext-1").
		WillReturnRows(pgxmock.NewRows(businessCols))
	mock.ExpectQuery(`SELECT`).
		WithArgs("ds-1", "backerei-muller", "ext-1").
		WillReturnRows(pgxmock.NewRows(businessCols))
	mock.ExpectQuery(`INSERT INTO businesses`).
		WithArgs("Bäckerei Müller", "backerei-muller", "Hauptstraße 12", "Berlin",
			"", "ds-1", "cat-food", "ext-1", "", "", "",
			pgxmock.AnyArg(), pgxmock.AnyArg(),
			time.Unix(1760000000, 0).UTC(), 20).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()
	mock.ExpectRollback()

	res, err := store.Upsert(context.Background(), incomingIdentity())
	require.NoError(t, err)
	assert.True(t, res.WasNew)
	assert.False(t, res.WasUpdated)
	assert.Equal(t, int64(7), res.Business.ID)
	// Completeness recomputed on insert: address only.
	assert.Equal(t, 20, res.Business.Completeness)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertMergesIntoLockedMatch(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	incoming := incomingIdentity()
	incoming.Website = "https://baeckerei-mueller.de"

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT`).
		WithArgs("ds-1", "ext-1").
		WillReturnRows(existingRow(3, "ext-1"))
	// Merged row: incoming website wins, completeness now website + address.
	mock.ExpectExec(`UPDATE businesses SET`).
		WithArgs(int64(3), "Bäckerei Müller", "Hauptstraße 12", "Berlin", "",
			"ds-1", "cat-food", "ext-1", "https://baeckerei-mueller.de", "", "",
			pgxmock.AnyArg(), pgxmock.AnyArg(),
			time.Unix(1760000000, 0).UTC(), 50).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	res, err := store.Upsert(context.Background(), incoming)
	require.NoError(t, err)
	assert.False(t, res.WasNew)
	assert.True(t, res.WasUpdated)
	assert.Equal(t, int64(3), res.Business.ID)
	assert.Equal(t, "https://baeckerei-mueller.de", res.Business.Website)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSameNameDifferentExternalIDInsertsNewRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	incoming := incomingIdentity()
	incoming.ExternalID = "ext-2"

	mock.ExpectBegin()
	// No row carries ext-2, and the name probe excludes the ext-1 row, so the
	// same name yields a second identity instead of a merge.
	mock.ExpectQuery(`SELECT`).
		WithArgs("ds-1", "ext-2").
		WillReturnRows(pgxmock.NewRows(businessCols))
	mock.ExpectQuery(`SELECT`).
		WithArgs("ds-1", "backerei-muller", "ext-2").
		WillReturnRows(pgxmock.NewRows(businessCols))
	mock.ExpectQuery(`INSERT INTO businesses`).
		WithArgs("Bäckerei Müller", "backerei-muller", "Hauptstraße 12", "Berlin",
			"", "ds-1", "cat-food", "ext-2", "", "", "",
			pgxmock.AnyArg(), pgxmock.AnyArg(),
			time.Unix(1760000000, 0).UTC(), 20).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(8)))
	mock.ExpectCommit()
	mock.ExpectRollback()

	res, err := store.Upsert(context.Background(), incoming)
	require.NoError(t, err)
	assert.True(t, res.WasNew)
	assert.Equal(t, int64(8), res.Business.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertLosesInsertRaceAndMergesWinner(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	incoming := incomingIdentity()
	incoming.ExternalID = ""

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT`).
		WithArgs("ds-1", "backerei-muller", "").
		WillReturnRows(pgxmock.NewRows(businessCols))
	// ON CONFLICT DO NOTHING returns no row: a concurrent writer won.
	mock.ExpectQuery(`INSERT INTO businesses`).
		WithArgs("Bäckerei Müller", "backerei-muller", "Hauptstraße 12", "Berlin",
			"", "ds-1", "cat-food", "", "", "", "",
			pgxmock.AnyArg(), pgxmock.AnyArg(),
			time.Unix(1760000000, 0).UTC(), 20).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	// The retry locks the winner's row and merges into it.
	mock.ExpectQuery(`SELECT`).
		WithArgs("ds-1", "backerei-muller", "").
		WillReturnRows(existingRow(9, ""))
	mock.ExpectExec(`UPDATE businesses SET`).
		WithArgs(int64(9), "Bäckerei Müller", "Hauptstraße 12", "Berlin", "",
			"ds-1", "cat-food", "", "", "", "",
			pgxmock.AnyArg(), pgxmock.AnyArg(),
			time.Unix(1760000000, 0).UTC(), 20).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	res, err := store.Upsert(context.Background(), incoming)
	require.NoError(t, err)
	assert.False(t, res.WasNew)
	assert.Equal(t, int64(9), res.Business.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRejectsEmptyNormalizedName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	bad := incomingIdentity()
	bad.NormalizedName = ""
	_, err = store.Upsert(context.Background(), bad)
	require.Error(t, err)
}

func TestLinkToScopeIsIdempotent(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO business_scopes`).
		WithArgs(int64(3), "ds-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.LinkToScope(context.Background(), 3, "ds-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
