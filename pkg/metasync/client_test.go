package metasync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestFetchVehiclePage(t *testing.T) {
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"vehiculos": [{"idLocal": 1}, {"idLocal": 2}],
			"result_set": {"total": 2, "count": 2, "lastId": 2}
		}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, PageSize: 250, Timeout: 5 * time.Second}, testLogger())
	creds := Credentials{APIKey: "secret", CompanyID: 42, Channel: "web"}
	since := time.Date(2024, time.March, 15, 8, 30, 0, 0, time.UTC)

	page, err := client.FetchVehiclePage(context.Background(), creds, since, 17)
	require.NoError(t, err)

	assert.Len(t, page.Vehiculos, 2)
	assert.Equal(t, 2, page.ResultSet.TotalItems())

	assert.Equal(t, "secret", gotHeaders.Get("apikey"))
	assert.Equal(t, "15/03/2024 08:30:00", gotHeaders.Get("fecha"))
	assert.Equal(t, "17", gotHeaders.Get("lastid"))
	assert.Equal(t, "250", gotHeaders.Get("offset"))
	assert.Equal(t, "web", gotHeaders.Get("canal"))
	assert.Equal(t, "42", gotHeaders.Get("idempresa"))
}

func TestFetchPartPageSupplierError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, testLogger())

	_, err := client.FetchPartPage(context.Background(), Credentials{}, FullImportSince, 0)
	assert.Error(t, err)
}

func TestFetchPartPageMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, testLogger())

	_, err := client.FetchPartPage(context.Background(), Credentials{}, FullImportSince, 0)
	assert.Error(t, err)
}

func TestPageSizeDefault(t *testing.T) {
	client := NewClient(Config{}, testLogger())
	assert.Equal(t, 1000, client.PageSize())
}
