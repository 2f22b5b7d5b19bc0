package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/shmlog/pkg/proc"
	"github.com/srediag/shmlog/pkg/vm"
)

func serve(h http.Handler, path string) int {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func TestHealthReadiness(t *testing.T) {
	mem, err := vm.NewPhysMem(context.Background(), 4, "")
	require.NoError(t, err)
	defer mem.Close()
	table := proc.NewTable(mem, 2, 1<<20, nil)

	h := NewHealth(mem, table, HealthOptions{MinFreeFrames: 2, MinFreeSlots: 1})
	assert.Equal(t, http.StatusOK, serve(h, "/live"))
	assert.Equal(t, http.StatusOK, serve(h, "/ready"))

	pid, err := table.Spawn("hog")
	require.NoError(t, err)
	_, err = table.Sbrk(pid, 3*vm.PageSize)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, "/ready"))
	assert.Equal(t, http.StatusOK, serve(h, "/live"))

	require.NoError(t, table.Exit(pid))
	assert.Equal(t, http.StatusOK, serve(h, "/ready"))
}

func TestProcessSlotsCheck(t *testing.T) {
	mem, err := vm.NewPhysMem(context.Background(), 4, "")
	require.NoError(t, err)
	defer mem.Close()
	table := proc.NewTable(mem, 1, 1<<20, nil)

	check := ProcessSlotsCheck(table, 1)
	assert.NoError(t, check())
	_, err = table.Spawn("only")
	require.NoError(t, err)
	assert.Error(t, check())
}

func TestGlobalInstruments(t *testing.T) {
	_, span := Tracer().Start(context.Background(), "probe")
	span.End()
	_, err := Meter().Int64Counter("probe")
	assert.NoError(t, err)
}
