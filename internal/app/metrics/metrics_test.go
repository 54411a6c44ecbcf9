package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOpenRafflesGaugeTracksTerminalTransitions(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncRafflesCreated()
	m.IncRafflesCreated()
	if got := testutil.ToFloat64(m.openRaffles); got != 2 {
		t.Fatalf("open raffles: got %v, want 2", got)
	}

	// A settlement alone does not move the gauge: a sweep settles a raffle
	// that already left the open set when it auto ended.
	m.IncSettlements()
	if got := testutil.ToFloat64(m.settlements); got != 1 {
		t.Fatalf("settlements: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.openRaffles); got != 2 {
		t.Fatalf("open raffles after settlement: got %v, want 2", got)
	}

	m.DecOpenRaffles()
	if got := testutil.ToFloat64(m.openRaffles); got != 1 {
		t.Fatalf("open raffles after terminal transition: got %v, want 1", got)
	}
}

func TestNilMetricsNoOp(t *testing.T) {
	var m *Metrics
	m.IncRafflesCreated()
	m.AddTicketsSold(2)
	m.IncSettlements()
	m.IncRerolls()
	m.IncRefundsClaimed()
	m.AddLuckyRefundAssigned(5)
	m.IncLuckyRefundClaimed()
	m.DecOpenRaffles()
}
