package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusHTTPHandler(t *testing.T) {
	ConnectionsTotal.Reset()
	CommandsTotal.Reset()

	ConnectionsTotal.WithLabelValues("ftp").Add(10)
	CommandsTotal.WithLabelValues("RETR", "2xx").Add(2)

	server := httptest.NewServer(promhttp.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `ftrd_connections_total{protocol="ftp"} 10`)
	assert.Contains(t, string(body), `ftrd_commands_total{command="RETR",status="2xx"} 2`)
}

func TestTransferDurationHistogram(t *testing.T) {
	TransferDuration.Reset()
	TransferDuration.WithLabelValues("STOR").Observe(0.2)
	TransferDuration.WithLabelValues("STOR").Observe(2)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var hist *dto.Histogram
	for _, mf := range families {
		if mf.GetName() != "ftrd_transfer_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "command" && lp.GetValue() == "STOR" {
					hist = m.GetHistogram()
				}
			}
		}
	}
	require.NotNil(t, hist)
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.InDelta(t, 2.2, hist.GetSampleSum(), 1e-9)
}
