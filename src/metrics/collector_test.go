package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_RecordRequest(t *testing.T) {
	c := NewCollector("rce_test")

	c.RecordRequest("rpc", "Success", 10*time.Millisecond)
	c.RecordRequest("rpc", "Success", 20*time.Millisecond)
	c.RecordRequest("rpc", "Timeout", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("rpc", "Success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("rpc", "Timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.requestDuration))
}

func TestCollector_Gauges(t *testing.T) {
	c := NewCollector("rce_test")

	c.SetOpenChannels(3)
	c.SetCallbackBindings(2)
	c.RecordGraphRebuild(5)
	c.RecordGraphRebuild(4)
	c.RecordPropertyChanges(1, 2, 0, 3)
	c.RecordHeartbeatFailure()

	assert.Equal(t, 3.0, testutil.ToFloat64(c.openChannels))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.callbackBindings))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.graphRebuilds))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.reachableNodes))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.propertyChanges.WithLabelValues("discarded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.heartbeatFailures))
}

func TestCollector_Isolated(t *testing.T) {
	// Two nodes of the same process do not share metrics
	c1 := NewCollector("rce")
	c2 := NewCollector("rce")

	c1.SetOpenChannels(7)
	assert.Equal(t, 0.0, testutil.ToFloat64(c2.openChannels))
}

func TestCollector_Nil(t *testing.T) {
	var c *Collector

	c.RecordRequest("rpc", "Success", time.Millisecond)
	c.RecordForward("Success")
	c.RecordGraphRebuild(1)
	c.RecordPropertyChanges(1, 1, 1, 1)
	c.SetOpenChannels(1)
	c.RecordHeartbeatFailure()
	c.SetCallbackBindings(1)
	assert.Nil(t, c.Registry())
}
