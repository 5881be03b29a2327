package bet

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/oddsmill/bet-engine/internal/metrics"
)

func waitForClientGauge(t *testing.T, want float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(metrics.WebSocketClients) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("websocket client gauge = %v, want %v",
		testutil.ToFloat64(metrics.WebSocketClients), want)
}

func TestHub_DropsSlowClientAndUpdatesGauge(t *testing.T) {
	h := NewHub()
	go h.Run()

	// Unbuffered send channel with no reader: the first broadcast cannot
	// be delivered, so the hub must evict the client.
	slow := &wsClient{hub: h, send: make(chan []byte)}
	h.register <- slow
	waitForClientGauge(t, 1)

	h.Broadcast(&WSMessage{Type: "price_update", MarketID: "m1"})
	waitForClientGauge(t, 0)

	// The send channel was closed on eviction.
	select {
	case _, open := <-slow.send:
		if open {
			t.Error("evicted client received a message instead of close")
		}
	case <-time.After(time.Second):
		t.Error("evicted client's send channel not closed")
	}
}
