package timeseries

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/voltmon/energy-usage-worker/internal/config"
	"github.com/voltmon/energy-usage-worker/internal/model"
	"go.uber.org/zap"
)

const measurement = "energy_usage"

// Client wraps the InfluxDB v2 client for the time-series store.
type Client struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	queryAPI    api.QueryAPI
	cfg         config.InfluxDBConfig
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
}

// NewClient initializes the InfluxDB client and verifies connectivity.
func NewClient(cfg config.InfluxDBConfig, retry config.RetryConfig, logger *zap.Logger) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	if _, err := client.Health(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("[INFLUXDB CONNECTION FAILED] cannot reach InfluxDB, check that it is running and INFLUXDB_URL is correct: %w", err)
	}

	return &Client{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI:    client.QueryAPI(cfg.Org),
		cfg:         cfg,
		maxAttempts: retry.StoreMaxAttempts,
		backoff:     retry.StoreBackoff,
		logger:      logger,
	}, nil
}

// WriteReading appends one raw reading, tagged by device and stamped
// with the reading's own timestamp. Transient failures are retried a
// bounded number of times; the last error is returned for the caller
// to log and move on, never to block the consumer.
func (c *Client) WriteReading(ctx context.Context, reading model.UsageReading) error {
	point := write.NewPoint(
		measurement,
		map[string]string{
			"deviceId": strconv.FormatInt(reading.DeviceID, 10),
		},
		map[string]interface{}{
			"energyConsumed": reading.EnergyConsumed,
		},
		reading.Timestamp,
	)

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if lastErr = c.writeAPI.WritePoint(ctx, point); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("time-series write failed",
			zap.Error(lastErr),
			zap.Int64("device_id", reading.DeviceID),
			zap.Int("attempt", attempt),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}

	return fmt.Errorf("time-series write exhausted %d attempts: %w", c.maxAttempts, lastErr)
}

// UsageForDevices sums energyConsumed across a device set over the last
// N days. Serves the usage-query surface, not the alerting core.
func (c *Client) UsageForDevices(ctx context.Context, deviceIDs []int64, days int) (float64, error) {
	if len(deviceIDs) == 0 {
		return 0, nil
	}

	ids := make([]string, len(deviceIDs))
	for i, id := range deviceIDs {
		ids[i] = `"` + strconv.FormatInt(id, 10) + `"`
	}

	flux := fmt.Sprintf(`
		from(bucket: %q)
		  |> range(start: -%dd)
		  |> filter(fn: (r) => r._measurement == %q and r._field == "energyConsumed")
		  |> filter(fn: (r) => contains(value: r.deviceId, set: [%s]))
		  |> group()
		  |> sum()
	`, c.cfg.Bucket, days, measurement, strings.Join(ids, ", "))

	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return 0, fmt.Errorf("usage range query failed: %w", err)
	}

	var total float64
	for result.Next() {
		if v, ok := result.Record().Value().(float64); ok {
			total += v
		}
	}
	if result.Err() != nil {
		return 0, fmt.Errorf("usage range query iteration error: %w", result.Err())
	}

	return total, nil
}

// Close closes the underlying InfluxDB client.
func (c *Client) Close() {
	c.client.Close()
}
