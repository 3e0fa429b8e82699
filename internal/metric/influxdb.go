package metric

import (
	"context"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	lp "github.com/influxdata/line-protocol"
	log "github.com/sirupsen/logrus"
)

type influx struct {
	client influxdb2.InfluxDBClient
	bucket string
	org    string

	mu      sync.Mutex
	metrics []Metric
}

type InfluxdbConfig struct {
	Addr   string
	Token  string
	Bucket string
	Org    string
}

// New returns an InfluxDB client, or a Null client when no address is configured.
func New(config InfluxdbConfig) Client {
	if config.Addr == "" {
		return &Null{}
	}

	return NewInfluxdb(config)
}

func NewInfluxdb(config InfluxdbConfig) Client {
	client := influxdb2.NewClient(config.Addr, config.Token)

	return &influx{client: client, bucket: config.Bucket, org: config.Org}
}

func (i *influx) Add(metric Metric) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.metrics = append(i.metrics, metric)
}

func (i *influx) Send(points ...*influxdb2.Point) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := i.client.WriteApiBlocking(i.org, i.bucket).WritePoint(ctx, points...); err != nil {
		log.WithError(err).Debug("unable to send metrics")

		for _, point := range points {
			log.WithFields(log.Fields{
				"name":   point.Name(),
				"tags":   tagsMap(point.TagList()),
				"fields": fieldsMap(point.FieldList()),
			}).Debug("metric not sent")
		}
	}
}

func (i *influx) Ticker(ctx context.Context, duration time.Duration) {
	ticker := time.NewTicker(duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.mu.Lock()
			points := make([]*influxdb2.Point, len(i.metrics))

			for n, metric := range i.metrics {
				points[n] = metric.Metric()
			}
			i.mu.Unlock()

			if len(points) > 0 {
				i.Send(points...)
			}
		}
	}
}

func (i *influx) Close() {
	i.client.Close()
}

func tagsMap(tags []*lp.Tag) Tags {
	t := make(Tags)

	for _, tag := range tags {
		t[tag.Key] = tag.Value
	}

	return t
}

func fieldsMap(fields []*lp.Field) Fields {
	f := make(Fields)

	for _, field := range fields {
		f[field.Key] = field.Value
	}

	return f
}
