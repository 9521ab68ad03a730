package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aradilov/ringchan/directed"
	"github.com/aradilov/ringchan/epoch"
	"github.com/aradilov/ringchan/mpsc"
	"github.com/aradilov/ringchan/park"
)

func TestCollectChannels(t *testing.T) {
	c := NewCollector("ringchan", epoch.NewCollector(4, 1))

	tx, rx := mpsc.New[int](mpsc.WithName[int]("jobs"))
	defer tx.Close()
	defer rx.Close()
	tx.Send(1)
	tx.Send(2)
	tx.Clone().Close()

	dtx, drx := directed.New[string](park.NewThread("consumer"), directed.WithName[string]("events"))
	defer dtx.Close()
	defer drx.Close()
	dtx.Send("a")

	c.Register(rx)
	c.Register(drx)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP ringchan_channel_pending_messages Messages sent and not yet received
# TYPE ringchan_channel_pending_messages gauge
ringchan_channel_pending_messages{channel="events",kind="directed"} 1
ringchan_channel_pending_messages{channel="jobs",kind="counting"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "ringchan_channel_pending_messages"))

	_, err := rx.Recv()
	require.NoError(t, err)

	expected = `
# HELP ringchan_channel_received_total Messages received
# TYPE ringchan_channel_received_total counter
ringchan_channel_received_total{channel="events",kind="directed"} 0
ringchan_channel_received_total{channel="jobs",kind="counting"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "ringchan_channel_received_total"))

	// 7 per channel + 4 epoch series
	assert.Equal(t, 2*7+4, testutil.CollectAndCount(c))

	c.Unregister("events")
	assert.Equal(t, 7+4, testutil.CollectAndCount(c))
}
