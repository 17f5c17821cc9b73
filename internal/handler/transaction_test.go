package handler

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speymell/crmbot/internal/tenant"
)

func tenantJSON(t *testing.T, method, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(tenant.WithBusinessID(req.Context(), 7))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestCreateTransactionRejectsUnknownType(t *testing.T) {
	setupMockDB(t)

	c, rec := tenantJSON(t, http.MethodPost, "/api/transactions", `{"type":"refund","amount":100}`)
	require.NoError(t, CreateTransaction(c))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "income or expense")
}

func TestCreateTransactionIncome(t *testing.T) {
	mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "transactions"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	c, rec := tenantJSON(t, http.MethodPost, "/api/transactions",
		`{"type":"income","amount":1500,"description":"Manicure"}`)
	require.NoError(t, CreateTransaction(c))

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTransactionRejectsNonPositiveAmount(t *testing.T) {
	setupMockDB(t)

	c, rec := tenantJSON(t, http.MethodPost, "/api/transactions", `{"type":"expense","amount":0}`)
	require.NoError(t, CreateTransaction(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTransactionUnknownAppointmentIs404(t *testing.T) {
	mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "appointments"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	c, rec := tenantJSON(t, http.MethodPost, "/api/transactions",
		`{"type":"income","amount":1500,"appointment_id":999}`)
	require.NoError(t, CreateTransaction(c))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
