// Package monitoring exports ledger statistics to Prometheus.
package monitoring

import (
	"github.com/commerceblock/spvledger/ledger"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spvledger"

// StatsSource is implemented by the ledger.
type StatsSource interface {
	Stats() ledger.Stats
}

// statGauge maps one ledger statistic to a gauge.
type statGauge struct {
	desc  *prometheus.Desc
	value func(ledger.Stats) float64
}

// Collector is a prometheus.Collector reading a fresh ledger.Stats snapshot
// on every scrape.
type Collector struct {
	src    StatsSource
	gauges []statGauge
}

// NewCollector returns a collector over src.
func NewCollector(src StatsSource) *Collector {
	gauge := func(name, help string,
		value func(ledger.Stats) float64) statGauge {

		return statGauge{
			desc: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "", name),
				help, nil, nil,
			),
			value: value,
		}
	}

	return &Collector{
		src: src,
		gauges: []statGauge{
			gauge("transactions", "Number of stored transactions.",
				func(s ledger.Stats) float64 {
					return float64(s.Transactions)
				}),
			gauge("addresses", "Number of watched addresses.",
				func(s ledger.Stats) float64 {
					return float64(s.Addresses)
				}),
			gauge("whitelist_addresses",
				"Number of addresses watched for policy outputs.",
				func(s ledger.Stats) float64 {
					return float64(s.Whitelist)
				}),
			gauge("verified_transactions",
				"Number of transactions backed by an SPV proof.",
				func(s ledger.Stats) float64 {
					return float64(s.Verified)
				}),
			gauge("unverified_transactions",
				"Number of transactions awaiting a proof.",
				func(s ledger.Stats) float64 {
					return float64(s.Unverified)
				}),
			gauge("demoted_transactions",
				"Number of proofs undone by a reorg.",
				func(s ledger.Stats) float64 {
					return float64(s.Demoted)
				}),
			gauge("credentials",
				"Number of unassigned registration keys.",
				func(s ledger.Stats) float64 {
					return float64(s.Credentials)
				}),
			gauge("local_height", "Height of the local header chain.",
				func(s ledger.Stats) float64 {
					return float64(s.LocalHeight)
				}),
			gauge("up_to_date",
				"1 if the ledger is synchronized with the server.",
				func(s ledger.Stats) float64 {
					if s.UpToDate {
						return 1
					}
					return 0
				}),
		},
	}
}

// Describe sends the descriptors of every gauge.
//
// NOTE: This is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		ch <- g.desc
	}
}

// Collect takes one stats snapshot and sends every gauge from it.
//
// NOTE: This is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.src.Stats()
	for _, g := range c.gauges {
		ch <- prometheus.MustNewConstMetric(
			g.desc, prometheus.GaugeValue, g.value(stats),
		)
	}
}

var _ prometheus.Collector = (*Collector)(nil)
