// Package metric pushes worker and transcode counters to InfluxDB.
package metric

import (
	"context"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
)

type Client interface {
	// Add registers a metric sent on every Ticker tick.
	Add(metric Metric)
	Send(points ...*influxdb2.Point)
	Ticker(ctx context.Context, duration time.Duration)
	Close()
}

type Metric interface {
	Metric() *influxdb2.Point
}

type Tags map[string]string

type Fields map[string]interface{}

type RowMetric struct {
	Name string
	Tags Tags
}

type CounterMetric struct {
	RowMetric
	Counter int64
}

func (c *CounterMetric) Inc() {
	atomic.AddInt64(&c.Counter, 1)
}

func (c *CounterMetric) Metric() *influxdb2.Point {
	return influxdb2.NewPoint(c.Name, c.Tags, Fields{"counter": atomic.LoadInt64(&c.Counter)}, time.Now())
}

type GaugeMetric struct {
	RowMetric
	Gauge int64
}

func (g *GaugeMetric) Set(v int64) {
	atomic.StoreInt64(&g.Gauge, v)
}

func (g *GaugeMetric) Metric() *influxdb2.Point {
	return influxdb2.NewPoint(g.Name, g.Tags, Fields{"gauge": atomic.LoadInt64(&g.Gauge)}, time.Now())
}

type DurationMetric struct {
	RowMetric
	Duration time.Duration
}

func (d *DurationMetric) Metric() *influxdb2.Point {
	return influxdb2.NewPoint(d.Name, d.Tags, Fields{"duration": d.Duration.Seconds()}, time.Now())
}
