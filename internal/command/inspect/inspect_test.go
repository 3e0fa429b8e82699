package inspect

import (
	"bytes"
	"testing"

	rabbithole "github.com/michaelklishin/rabbit-hole/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ladder/internal/metric"
	"ladder/internal/queue"
)

type fakeClient map[string]*rabbithole.DetailedQueueInfo

func (f fakeClient) GetQueue(vhost, name string) (*rabbithole.DetailedQueueInfo, error) {
	info, ok := f[name]

	if !ok {
		return nil, errors.Errorf("queue '%s' not found", name)
	}

	return info, nil
}

func TestReport(t *testing.T) {
	var out bytes.Buffer

	request := &rabbithole.DetailedQueueInfo{}
	request.Messages = 7
	request.MessagesReady = 5
	request.MessagesUnacknowledged = 2

	i := &inspector{
		client: fakeClient{queue.RequestQueue: request, queue.ResponseQueue: &rabbithole.DetailedQueueInfo{}},
		metric: &metric.Null{},
		vhost:  "/",
		out:    &out,
	}

	depths, err := i.depths()
	require.NoError(t, err)
	assert.Equal(t, []depth{
		{Queue: queue.RequestQueue, Total: 7, Ready: 5, Unacked: 2},
		{Queue: queue.ResponseQueue},
	}, depths)

	require.NoError(t, i.report())
	assert.Contains(t, out.String(), "transcode.request")
	assert.Contains(t, out.String(), "QUEUE")
}

func TestReportMissingQueue(t *testing.T) {
	i := &inspector{client: fakeClient{}, metric: &metric.Null{}, out: &bytes.Buffer{}}

	assert.Error(t, i.report())
}
