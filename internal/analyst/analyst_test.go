package analyst

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const csvHeader = "timestamp,city,cell_id,latitude,longitude,throughput_mbps,latency_ms,packet_loss_pct,rsrp_dbm,users_connected\n"

func writeCell(t *testing.T, dir, city, cell string, rows ...string) {
	t.Helper()
	cityDir := filepath.Join(dir, city)
	require.NoError(t, os.MkdirAll(cityDir, 0o755))
	content := csvHeader + strings.Join(rows, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(cityDir, cell+".csv"), []byte(content), 0o644))
}

func row(ts, city, cell string, throughput, latency, loss float64, users int) string {
	return fmt.Sprintf("%s,%s,%s,52.5,13.4,%.1f,%.1f,%.3f,-95,%d", ts, city, cell, throughput, latency, loss, users)
}

func TestStore_Topology(t *testing.T) {
	dir := t.TempDir()
	writeCell(t, dir, "Berlin", "BER-002", row("2024-01-01T00:00:00Z", "Berlin", "BER-002", 300, 20, 0.1, 40))
	writeCell(t, dir, "Berlin", "BER-001", row("2024-01-01T00:00:00Z", "Berlin", "BER-001", 300, 20, 0.1, 40))
	writeCell(t, dir, "Munich", "MUC-001", row("2024-01-01T00:00:00Z", "Munich", "MUC-001", 300, 20, 0.1, 40))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Munich", "notes.txt"), []byte("ignored"), 0o644))

	store := NewStore(dir)
	cities, err := store.Cities()
	require.NoError(t, err)
	assert.Equal(t, []string{"Berlin", "Munich"}, cities)

	cells, err := store.Cells("Berlin")
	require.NoError(t, err)
	assert.Equal(t, []string{"BER-001", "BER-002"}, cells)

	_, err = store.Cells("Paris")
	assert.ErrorIs(t, err, ErrUnknownCell)
	_, err = store.Tail("Berlin", "MUC-001", 10)
	assert.ErrorIs(t, err, ErrUnknownCell)

	empty, err := NewStore(filepath.Join(dir, "missing")).Topology()
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_Tail(t *testing.T) {
	dir := t.TempDir()
	var rows []string
	for i := 0; i < 10; i++ {
		rows = append(rows, row(fmt.Sprintf("2024-01-01T00:00:%02dZ", i), "Berlin", "BER-001", float64(100+i), float64(10+i), 0.1, i))
	}
	writeCell(t, dir, "Berlin", "BER-001", rows...)

	samples, err := NewStore(dir).Tail("Berlin", "BER-001", 3)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, "2024-01-01T00:00:07Z", samples[0].Timestamp)
	assert.Equal(t, "2024-01-01T00:00:09Z", samples[2].Timestamp)
	assert.Equal(t, 19.0, samples[2].LatencyMs)
	assert.Equal(t, 9, samples[2].UsersConnected)
	assert.Equal(t, "BER-001", samples[2].CellID)
}

func TestSummaryBuilder_Build(t *testing.T) {
	dir := t.TempDir()
	writeCell(t, dir, "Berlin", "BER-001",
		row("2024-01-01T00:00:00Z", "Berlin", "BER-001", 300, 20, 0.1, 40),
		row("2024-01-01T00:00:10Z", "Berlin", "BER-001", 320, 30, 0.1, 50),
	)
	writeCell(t, dir, "Munich", "MUC-001",
		row("2024-01-01T00:00:05Z", "Munich", "MUC-001", 100, 120, 0.5, 90),
	)
	builder := NewSummaryBuilder(NewStore(dir), 100)
	ctx := context.Background()

	summary, err := builder.Build(ctx, "How is the network doing?")
	require.NoError(t, err)
	assert.Contains(t, summary, "Scope: the entire network.")
	assert.Contains(t, summary, "Worst latency currently at Munich/MUC-001: 120.0 ms")
	assert.Contains(t, summary, "Best latency currently at Berlin/BER-001: 25.0 ms")
	assert.Contains(t, summary, "Most recent sample: 2024-01-01T00:00:10Z - latency 30.0 ms")
	assert.Contains(t, summary, "Health assessment: Healthy / normal behavior.")

	summary, err = builder.Build(ctx, "what about munich?")
	require.NoError(t, err)
	assert.Contains(t, summary, "Scope: city Munich.")
	assert.Contains(t, summary, "Degraded performance")

	summary, err = builder.Build(ctx, "status of ber-001 in Munich")
	require.NoError(t, err)
	assert.Contains(t, summary, "Scope: cell BER-001 in Berlin.")
	assert.NotContains(t, summary, "Worst latency")
	assert.Contains(t, summary, "Average latency: 25.0 ms, average throughput: 310.0 Mbps.")
}

func TestSummaryBuilder_NoData(t *testing.T) {
	dir := t.TempDir()
	summary, err := NewSummaryBuilder(NewStore(dir), 0).Build(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "No network data available yet.", summary)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Berlin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Berlin", "BER-001.csv"), []byte(csvHeader), 0o644))
	summary, err = NewSummaryBuilder(NewStore(dir), 0).Build(context.Background(), "berlin")
	require.NoError(t, err)
	assert.Equal(t, "No recent data found for city Berlin.", summary)
}

func TestClassifyHealth(t *testing.T) {
	cases := []struct {
		latency, loss float64
		users         int
		want          string
	}{
		{250, 0, 10, "Severe degradation (likely incident)."},
		{20, 3.5, 10, "Severe degradation (likely incident)."},
		{90, 0, 10, "Degraded performance (monitor closely)."},
		{20, 1.5, 10, "Degraded performance (monitor closely)."},
		{60, 0.1, 200, "High load, mild congestion."},
		{60, 0.1, 100, "Healthy / normal behavior."},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClassifyHealth(c.latency, c.loss, c.users))
	}
}
