package permission

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/speymell/crmbot/internal/model"
)

func TestBaseSetOwner(t *testing.T) {
	set := BaseSet(model.RoleOwner)
	for _, key := range AllKeys {
		assert.True(t, set[key], "owner should hold %s", key)
	}
}

func TestBaseSetAdmin(t *testing.T) {
	set := BaseSet(model.RoleAdmin)
	for _, key := range AllKeys {
		if key == UsersWrite {
			assert.False(t, set[key], "admin must not manage users")
			continue
		}
		assert.True(t, set[key], "admin should hold %s", key)
	}
}

func TestBaseSetStaff(t *testing.T) {
	set := BaseSet(model.RoleStaff)

	granted := []Key{AppointmentsRead, ClientsRead, ChatRead}
	for _, key := range granted {
		assert.True(t, set[key], "staff should hold %s", key)
	}
	for _, key := range AllKeys {
		switch key {
		case AppointmentsRead, ClientsRead, ChatRead:
		default:
			assert.False(t, set[key], "staff must not hold %s", key)
		}
	}
}

func TestBaseSetUnknownRole(t *testing.T) {
	set := BaseSet("superuser")
	for _, key := range AllKeys {
		assert.False(t, set[key])
	}
}

func TestEffectiveOverridePrecedence(t *testing.T) {
	cases := []struct {
		name      string
		base      bool
		overrides map[string]interface{}
		want      bool
	}{
		{"grant over denied base", false, map[string]interface{}{"finance:write": true}, true},
		{"revoke over granted base", true, map[string]interface{}{"finance:write": false}, false},
		{"absent key keeps base", true, map[string]interface{}{"chat:read": false}, true},
		{"nil map keeps base", false, nil, false},
		{"string value keeps base", true, map[string]interface{}{"finance:write": "false"}, true},
		{"numeric value keeps base", false, map[string]interface{}{"finance:write": float64(1)}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, effective(tc.base, tc.overrides, FinanceWrite))
		})
	}
}

func TestValidKey(t *testing.T) {
	assert.True(t, ValidKey("finance:write"))
	assert.True(t, ValidKey("chat:read"))
	assert.False(t, ValidKey("finance:delete"))
	assert.False(t, ValidKey(""))
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 conn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	return db, mock
}

func TestResolverNoOverrideRowKeepsBase(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "user_permissions"`)).
		WithArgs(uint(7), uint(42), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	staff := &model.User{ID: 42, BusinessID: 7, Role: model.RoleStaff}
	resolver := NewResolver(db)

	allowed, err := resolver.Allowed(staff, AppointmentsRead)
	require.NoError(t, err)
	assert.True(t, allowed)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "user_permissions"`)).
		WithArgs(uint(7), uint(42), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	allowed, err = resolver.Allowed(staff, FinanceWrite)
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolverOverrideWins(t *testing.T) {
	db, mock := newMockDB(t)

	rows := sqlmock.NewRows([]string{"id", "business_id", "user_id", "permissions"}).
		AddRow(1, 7, 42, []byte(`{"finance:write": true, "appointments:read": false}`))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "user_permissions"`)).
		WithArgs(uint(7), uint(42), 1).
		WillReturnRows(rows)

	staff := &model.User{ID: 42, BusinessID: 7, Role: model.RoleStaff}

	allowed, err := NewResolver(db).Allowed(staff, FinanceWrite)
	require.NoError(t, err)
	assert.True(t, allowed, "override must widen a staff grant")

	rows = sqlmock.NewRows([]string{"id", "business_id", "user_id", "permissions"}).
		AddRow(1, 7, 42, []byte(`{"finance:write": true, "appointments:read": false}`))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "user_permissions"`)).
		WithArgs(uint(7), uint(42), 1).
		WillReturnRows(rows)

	allowed, err = NewResolver(db).Allowed(staff, AppointmentsRead)
	require.NoError(t, err)
	assert.False(t, allowed, "override must narrow a base grant")

	require.NoError(t, mock.ExpectationsWereMet())
}
