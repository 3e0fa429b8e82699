package inspect

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	rabbithole "github.com/michaelklishin/rabbit-hole/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ladder/internal/command/root"
	"ladder/internal/metric"
	"ladder/internal/queue"
	"ladder/internal/signal"
)

var logger = log.WithFields(log.Fields{"app": "inspect"})

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.Flags().String("vhost", "/", "RabbitMQ virtual host")
	cmd.Flags().Duration("interval", 0, "Keep reporting at this interval, a single report when 0")
}

var cmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show transcode queue depth",
	Long:  `Reads the depth of the transcode queues from the RabbitMQ management API`,
	RunE: func(cmd *cobra.Command, args []string) error {
		apiURL := viper.GetString("rabbitmq-api")
		rmqc, err := rabbithole.NewClient(apiURL, viper.GetString("rabbitmq-user"), viper.GetString("rabbitmq-pass"))

		if err != nil {
			return errors.Wrap(err, "rabbitmq admin client")
		}

		logger.Debugf("connected to RabbitMQ admin '%s'", apiURL)

		cmpt := root.GetComponent(false, false, false, true)
		defer cmpt.Close()

		vhost, _ := cmd.Flags().GetString("vhost")
		interval, _ := cmd.Flags().GetDuration("interval")

		i := &inspector{client: rmqc, metric: cmpt.Metric, vhost: vhost, out: os.Stdout}

		if interval <= 0 {
			return i.report()
		}

		return i.watch(signal.WatchInterrupt(context.Background(), 5*time.Second), interval)
	},
}

type queueClient interface {
	GetQueue(vhost, queue string) (*rabbithole.DetailedQueueInfo, error)
}

type depth struct {
	Queue   string
	Total   int
	Ready   int
	Unacked int
}

type inspector struct {
	client queueClient
	metric metric.Client
	vhost  string
	out    io.Writer
}

func (i *inspector) depths() ([]depth, error) {
	var depths []depth

	for _, name := range []string{queue.RequestQueue, queue.ResponseQueue} {
		info, err := i.client.GetQueue(i.vhost, name)

		if err != nil {
			return nil, errors.Wrapf(err, "unable to get queue info for '%s'", name)
		}

		depths = append(depths, depth{
			Queue:   name,
			Total:   info.Messages,
			Ready:   info.MessagesReady,
			Unacked: info.MessagesUnacknowledged,
		})
	}

	return depths, nil
}

func (i *inspector) report() error {
	depths, err := i.depths()

	if err != nil {
		return err
	}

	fmt.Fprintf(i.out, "%-20s %8s %8s %8s\n", "QUEUE", "TOTAL", "READY", "UNACKED")

	for _, d := range depths {
		fmt.Fprintf(i.out, "%-20s %8d %8d %8d\n", d.Queue, d.Total, d.Ready, d.Unacked)

		gauge := &metric.GaugeMetric{
			RowMetric: metric.RowMetric{Name: "ladder_queue_messages_ready", Tags: metric.Tags{"queue": d.Queue}},
		}
		gauge.Set(int64(d.Ready))

		i.metric.Send(gauge.Metric())
	}

	return nil
}

func (i *inspector) watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := i.report(); err != nil {
			logger.WithError(err).Error("get queue info")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
