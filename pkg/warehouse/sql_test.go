package warehouse

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/deanslist-sync/pkg/entity"
	dlerrors "github.com/ajitpratap0/deanslist-sync/pkg/errors"
)

func newMockStore(t *testing.T, cfg Config, d Dialect) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db, cfg, d, zaptest.NewLogger(t)), mock
}

func TestSQLStore_DeleteTenant(t *testing.T) {
	s, mock := newMockStore(t, Config{Schema: "custom"}, MySQL)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `custom`.`DeansList_Incidents` WHERE `SchoolAPIKey` = ?")).
		WithArgs("bayview-key").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.DeleteTenant(context.Background(), "DeansList_Incidents", entity.TenantColumn, "bayview-key")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DeleteTenantWindow(t *testing.T) {
	s, mock := newMockStore(t, Config{Schema: "custom"}, Snowflake)
	w, err := entity.ParseWindow("2024-01-01", "2024-01-31")
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "custom"."DeansList_Behaviors" WHERE "SchoolAPIKey" = ? AND "BehaviorDate" >= ? AND "BehaviorDate" < ?`)).
		WithArgs("k", "2024-01-01", "2024-02-01").
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := s.DeleteTenantWindow(context.Background(), "DeansList_Behaviors", entity.TenantColumn, "k", "BehaviorDate", w)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_NestedLinks(t *testing.T) {
	const base = "SELECT DISTINCT t.`SourceID` FROM `custom`.`DeansList_Actions` t " +
		"LEFT JOIN `custom`.`DeansList_Incidents` r ON r.`IncidentID` = t.`SourceID` " +
		"WHERE r.`SchoolAPIKey` = ?"

	tests := []struct {
		name    string
		orphans bool
		query   string
	}{
		{"tenant only", false, base},
		{"with orphan sweep", true, base + " OR r.`IncidentID` IS NULL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t, Config{Schema: "custom"}, MySQL)

			mock.ExpectQuery("^" + regexp.QuoteMeta(tt.query) + "$").
				WithArgs("k").
				WillReturnRows(sqlmock.NewRows([]string{"SourceID"}).AddRow(int64(101)).AddRow([]byte("102")).AddRow(nil))

			links, err := s.NestedLinks(context.Background(), NestedLinkQuery{
				Child: "DeansList_Actions", LinkColumn: "SourceID",
				Parent: "DeansList_Incidents", Identity: "IncidentID",
				TenantColumn: entity.TenantColumn, TenantKey: "k",
				Orphans: tt.orphans,
			})
			require.NoError(t, err)
			assert.Equal(t, []any{int64(101), "102"}, links)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLStore_TenantKeys(t *testing.T) {
	s, mock := newMockStore(t, Config{Schema: "custom"}, MySQL)
	w, err := entity.ParseWindow("2024-01-01", "2024-01-31")
	require.NoError(t, err)

	mock.ExpectQuery("^" + regexp.QuoteMeta("SELECT DISTINCT `IncidentID` FROM `custom`.`DeansList_Incidents` WHERE `SchoolAPIKey` = ?") + "$").
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"IncidentID"}).AddRow(int64(101)).AddRow(int64(102)))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE `SchoolAPIKey` = ? AND `IssueTS` >= ? AND `IssueTS` < ?")).
		WithArgs("k", "2024-01-01", "2024-02-01").
		WillReturnRows(sqlmock.NewRows([]string{"IncidentID"}))

	q := KeyQuery{Table: "DeansList_Incidents", Identity: "IncidentID", TenantColumn: entity.TenantColumn, TenantKey: "k"}
	keys, err := s.TenantKeys(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(101), int64(102)}, keys)

	q.WindowColumn, q.Window = "IssueTS", &w
	keys, err = s.TenantKeys(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DeleteLinksChunks(t *testing.T) {
	s, mock := newMockStore(t, Config{DeleteChunkSize: 2}, MySQL)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `DeansList_Actions` WHERE `SourceID` IN (?, ?)")).
		WithArgs(1, 2).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `DeansList_Actions` WHERE `SourceID` IN (?)")).
		WithArgs(3).WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.DeleteLinks(context.Background(), "DeansList_Actions", "SourceID", []any{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_AppendBatches(t *testing.T) {
	d := MySQL
	d.MaxParams = 4
	s, mock := newMockStore(t, Config{}, d)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `T` (`a`, `b`) VALUES (?, ?), (?, ?)")).
		WithArgs(1, "x", 2, "y").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `T` (`a`, `b`) VALUES (?, ?)")).
		WithArgs(3, nil).WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.Append(context.Background(), "T", []string{"a", "b"}, [][]any{{1, "x"}, {2, "y"}, {3, nil}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_AppendEmptyIsNoop(t *testing.T) {
	s, mock := newMockStore(t, Config{}, MySQL)
	n, err := s.Append(context.Background(), "T", []string{"a"}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_AppendFailure(t *testing.T) {
	s, mock := newMockStore(t, Config{Schema: "custom"}, MySQL)
	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("duplicate key"))

	_, err := s.Append(context.Background(), "DeansList_Actions", []string{"a"}, [][]any{{1}})
	require.Error(t, err)
	assert.True(t, dlerrors.IsType(err, dlerrors.ErrorTypePersistence))

	var e *dlerrors.Error
	require.True(t, dlerrors.As(err, &e))
	assert.Equal(t, "insert", e.Details["phase"])
	assert.Equal(t, "`custom`.`DeansList_Actions`", e.Details["table"])
}

func TestSQLStore_Transact(t *testing.T) {
	s, mock := newMockStore(t, Config{}, MySQL)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := s.Transact(context.Background(), func(sess Session) error {
		if _, err := sess.DeleteTenant(context.Background(), "T", "k", "v"); err != nil {
			return err
		}
		_, err := sess.Append(context.Background(), "T", []string{"k"}, [][]any{{"v"}})
		return err
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = s.Transact(context.Background(), func(sess Session) error {
		_, err := sess.DeleteTenant(context.Background(), "T", "k", "v")
		return err
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_LoadTenants(t *testing.T) {
	s, mock := newMockStore(t, Config{Schema: "custom", RosterTable: "Schools"}, MySQL)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `SchoolName`, `SchoolAPIKey`, `Active` FROM `custom`.`Schools`")).
		WillReturnRows(sqlmock.NewRows([]string{"SchoolName", "SchoolAPIKey", "Active"}).
			AddRow("Bayview", "k1", int64(1)).
			AddRow("Hillside", "k2", []byte("0")).
			AddRow("Eastlake", "k3", true))

	tenants, err := s.LoadTenants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []entity.Tenant{
		{Name: "Bayview", APIKey: "k1", Active: true},
		{Name: "Hillside", APIKey: "k2", Active: false},
		{Name: "Eastlake", APIKey: "k3", Active: true},
	}, tenants)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDSN(t *testing.T) {
	dsn, err := sqlDSN(Config{User: "etl", Password: "pw", Host: "db", Database: "dw"}, MySQL)
	require.NoError(t, err)
	assert.Equal(t, "etl:pw@tcp(db:3306)/dw?parseTime=true", dsn)

	dsn, err = sqlDSN(Config{DSN: "explicit"}, Snowflake)
	require.NoError(t, err)
	assert.Equal(t, "explicit", dsn)

	_, err = sqlDSN(Config{}, Snowflake)
	assert.True(t, dlerrors.IsType(err, dlerrors.ErrorTypeConfig))
}

func TestPostgresDSN(t *testing.T) {
	assert.Equal(t, "postgres://etl:p%40ss@db:5432/dw",
		postgresDSN(Config{User: "etl", Password: "p@ss", Host: "db", Database: "dw"}))
	assert.Equal(t, "postgres://x", postgresDSN(Config{DSN: "postgres://x"}))
}

func TestOpen_Unsupported(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"}, nil)
	assert.True(t, dlerrors.IsType(err, dlerrors.ErrorTypeConfig))

	s, err := Open(context.Background(), Config{Driver: DriverMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}

func TestTruthy(t *testing.T) {
	for _, v := range []any{true, int64(1), int32(2), 1, 1.0, "1", "true", "Y", []byte("yes")} {
		assert.True(t, truthy(v), "%#v", v)
	}
	for _, v := range []any{nil, false, int64(0), "0", "no", "", []byte("f")} {
		assert.False(t, truthy(v), "%#v", v)
	}
}
