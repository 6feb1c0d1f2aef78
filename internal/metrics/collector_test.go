package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/manager"
	"github.com/fgan1/fogbow-manager/request"
)

var _ manager.Metrics = (*Collector)(nil)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.requestTransitions)
	assert.NotNil(t, collector.loopTicksTotal)
	assert.NotNil(t, collector.peerCallsTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/api/v1/requests", 200, 100*time.Millisecond, 1024, 2048)
	collector.RecordHTTPRequest("GET", "/api/v1/requests", 201, 50*time.Millisecond, 512, 1024)
	collector.RecordHTTPRequest("GET", "/api/v1/requests", 404, 5*time.Millisecond, 0, 64)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/api/v1/requests", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/api/v1/requests", "4xx")))
}

func TestCollector_RecordTransition(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordTransition(request.StateOpen, request.StateFulfilled)
	collector.RecordTransition(request.StateOpen, request.StateFulfilled)
	collector.RecordTransition(request.StateFulfilled, request.StateClosed)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.requestTransitions.WithLabelValues("open", "fulfilled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.requestTransitions.WithLabelValues("fulfilled", "closed")))
}

func TestCollector_RecordLoopTick(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordLoopTick("scheduler", 20*time.Millisecond, true)
	collector.RecordLoopTick("scheduler", 10*time.Millisecond, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.loopTicksTotal.WithLabelValues("scheduler", "keep")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.loopTicksTotal.WithLabelValues("scheduler", "idle")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.loopTickDuration))
}

func TestCollector_RecordProvisioningAndPeers(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordProvisioning("local", "capacity_exhausted")
	collector.RecordProvisioning("remote", "fulfilled")
	collector.RecordPeerCall("submit", "success")
	collector.RecordTokenRenewal(true)
	collector.RecordTokenRenewal(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.provisioningTotal.WithLabelValues("local", "capacity_exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.peerCallsTotal.WithLabelValues("submit", "success")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.tokenRenewals))
}

func TestCollector_UpdateConnectionPool(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBConnections("accounting", 10, 5)

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("accounting")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("accounting")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordHTTPRequest("GET", "/health", 200, time.Millisecond, 0, 16)
			collector.RecordTransition(request.StateOpen, request.StateClosed)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/health", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.requestTransitions.WithLabelValues("open", "closed")))
}
