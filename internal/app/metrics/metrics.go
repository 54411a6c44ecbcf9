// Package metrics exposes Prometheus collectors for raffle engine activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine collectors. A nil *Metrics is valid and every
// method then degrades to a no-op, so services can run unmetered.
type Metrics struct {
	rafflesCreated      prometheus.Counter
	ticketsSold         prometheus.Counter
	settlements         prometheus.Counter
	rerolls             prometheus.Counter
	refundsClaimed      prometheus.Counter
	luckyRefundAssigned prometheus.Counter
	luckyRefundClaimed  prometheus.Counter
	openRaffles         prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rafflesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raffle_raffles_created_total",
			Help: "Total raffles created, including recurrence spawns.",
		}),
		ticketsSold: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raffle_tickets_sold_total",
			Help: "Total tickets sold across all raffles.",
		}),
		settlements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raffle_settlements_total",
			Help: "Total raffle settlements, claims and sweeps.",
		}),
		rerolls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raffle_rerolls_total",
			Help: "Total winner reroll attempts.",
		}),
		refundsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raffle_refunds_claimed_total",
			Help: "Total ticket refunds claimed.",
		}),
		luckyRefundAssigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raffle_lucky_refund_assigned_total",
			Help: "Total lucky refund amount assigned by the sampler.",
		}),
		luckyRefundClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raffle_lucky_refund_claimed_total",
			Help: "Total lucky refund claims.",
		}),
		openRaffles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "raffle_open_raffles",
			Help: "Raffles currently in a non-terminal status.",
		}),
	}
	reg.MustRegister(
		m.rafflesCreated, m.ticketsSold, m.settlements, m.rerolls,
		m.refundsClaimed, m.luckyRefundAssigned, m.luckyRefundClaimed,
		m.openRaffles,
	)
	return m
}

func (m *Metrics) IncRafflesCreated() {
	if m == nil {
		return
	}
	m.rafflesCreated.Inc()
	m.openRaffles.Inc()
}

func (m *Metrics) AddTicketsSold(n int64) {
	if m == nil {
		return
	}
	m.ticketsSold.Add(float64(n))
}

func (m *Metrics) IncSettlements() {
	if m == nil {
		return
	}
	m.settlements.Inc()
}

// DecOpenRaffles records one raffle leaving the non-terminal statuses. The
// engine calls it once per transition into ENDED, AUTO_ENDED or CANCELED.
func (m *Metrics) DecOpenRaffles() {
	if m == nil {
		return
	}
	m.openRaffles.Dec()
}

func (m *Metrics) IncRerolls() {
	if m == nil {
		return
	}
	m.rerolls.Inc()
}

func (m *Metrics) IncRefundsClaimed() {
	if m == nil {
		return
	}
	m.refundsClaimed.Inc()
}

func (m *Metrics) AddLuckyRefundAssigned(amount int64) {
	if m == nil {
		return
	}
	m.luckyRefundAssigned.Add(float64(amount))
}

func (m *Metrics) IncLuckyRefundClaimed() {
	if m == nil {
		return
	}
	m.luckyRefundClaimed.Inc()
}
