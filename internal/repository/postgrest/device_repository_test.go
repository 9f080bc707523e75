package postgrest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atd/signal-comms/internal/config"
	"atd/signal-comms/internal/domain"
)

const knackRows = `[
  {"record": {"id": "5f1", "field_638": "10.5.1.20", "field_947": 2001, "field_642": "LOC1", "field_211": "LAMAR BLVD / 5TH ST", "field_199": [{"id": "abc", "identifier": 117}]}},
  {"record": {"id": "5f2", "field_638": " 10.5.1.21 ", "field_947": "2002", "field_211": null}},
  {"record": {"id": "5f3", "field_638": "", "field_947": 2003}},
  {"record": {"id": "5f4", "field_638": "10.5.1.23"}},
  {"record": {"id": "5f5", "field_638": "10.5.1.99", "field_947": 2001}}
]`

func newTestRepo(t *testing.T, handler http.HandlerFunc) *DeviceRepository {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, "jwt-token", time.Second)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDeviceRepository(client, "app-123", config.DefaultDeviceTypes(), log)
}

func TestFetchDevices(t *testing.T) {
	repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/knack", r.URL.Path)
		assert.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))
		assert.Equal(t, "eq.app-123", r.URL.Query().Get("app_id"))
		assert.Equal(t, "eq.view_395", r.URL.Query().Get("container_id"))
		assert.Equal(t, "record", r.URL.Query().Get("select"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, knackRows)
	})

	devices, err := repo.FetchDevices(context.Background(), domain.DeviceTypeCamera)
	require.NoError(t, err)

	require.Len(t, devices, 2)
	assert.Equal(t, domain.DeviceSpec{
		DeviceType:   domain.DeviceTypeCamera,
		DeviceID:     "2001",
		IPAddress:    "10.5.1.20",
		KnackID:      "5f1",
		LocationID:   "LOC1",
		LocationName: "LAMAR BLVD / 5TH ST",
		SignalID:     "117",
	}, devices[0])
	assert.Equal(t, "10.5.1.21", devices[1].IPAddress)
	assert.Empty(t, devices[1].LocationName)
}

func TestFetchDevices_ServerError(t *testing.T) {
	repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "jwt expired", http.StatusUnauthorized)
	})

	_, err := repo.FetchDevices(context.Background(), domain.DeviceTypeCamera)

	var regErr *domain.RegistryError
	require.True(t, errors.As(err, &regErr))
	assert.Equal(t, domain.DeviceTypeCamera, regErr.DeviceType)
	assert.Contains(t, err.Error(), "401")
}

func TestFetchDevices_MalformedBody(t *testing.T) {
	repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"not": "a list"}`)
	})

	_, err := repo.FetchDevices(context.Background(), domain.DeviceTypeDetector)

	var regErr *domain.RegistryError
	assert.True(t, errors.As(err, &regErr))
}

func TestFetchDevices_UnknownDeviceType(t *testing.T) {
	repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("registry must not be called")
	})

	_, err := repo.FetchDevices(context.Background(), "toaster")

	var regErr *domain.RegistryError
	assert.True(t, errors.As(err, &regErr))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", "t", 0)
	assert.Error(t, err)

	_, err = NewClient("pgrest.example.com", "", 0)
	assert.Error(t, err)

	c, err := NewClient("pgrest.example.com/", "t", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://pgrest.example.com", c.baseURL)
}
