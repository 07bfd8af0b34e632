package metrics

import "github.com/prometheus/client_golang/prometheus"

// Key constants are exported primarily for documentation reasons. Typically,
// they will not be used programmatically outside of defining the collectors.

// Keys for talus table metrics.
const (
	TableInsertsTotalKey     = "talus_table_inserts_total"
	TableRemovesTotalKey     = "talus_table_removes_total"
	TableOverrunsTotalKey    = "talus_table_overruns_total"
	TableUnderrunsTotalKey   = "talus_table_underruns_total"
	TableBytesWrittenTotal   = "talus_table_bytes_written_total"
	TableRecordsKey          = "talus_table_records"
	TableWatermarkEventsKey  = "talus_table_watermark_events_total"
	TableOperationSecondsKey = "talus_table_operation_seconds"

	Fail = "fail"
	Ok   = "ok"
)

// Collectors for talus tables.
var (
	TableInsertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: TableInsertsTotalKey,
		Help: "Cumulative number of records inserted into tables.",
	}, []string{"table"})
	TableRemovesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: TableRemovesTotalKey,
		Help: "Cumulative number of records removed from tables.",
	}, []string{"table"})
	TableOverrunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: TableOverrunsTotalKey,
		Help: "Cumulative number of inserts into full tables.",
	}, []string{"table"})
	TableUnderrunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: TableUnderrunsTotalKey,
		Help: "Cumulative number of reads of empty tables.",
	}, []string{"table"})
	TableBytesWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: TableBytesWrittenTotal,
		Help: "Cumulative number of record bytes written to table files.",
	}, []string{"table"})
	TableRecords = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: TableRecordsKey,
		Help: "Number of live records in a table.",
	}, []string{"table"})
	TableWatermarkEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: TableWatermarkEventsKey,
		Help: "Cumulative number of high- and low-water crossings.",
	}, []string{"table", "level"})
	TableOperationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    TableOperationSecondsKey,
		Help:    "Latency of table operations.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
	}, []string{"operation", "status"})
)

// TalusTableCollectors lists collectors used by talus tables.
func TalusTableCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		TableInsertsTotal,
		TableRemovesTotal,
		TableOverrunsTotal,
		TableUnderrunsTotal,
		TableBytesWritten,
		TableRecords,
		TableWatermarkEventsTotal,
		TableOperationSeconds,
	}
}

// Keys for talus publisher metrics.
const (
	PublisherCyclesTotalKey     = "talus_publisher_cycles_total"
	PublisherDeliveriesTotalKey = "talus_publisher_deliveries_total"
	PublisherDeliverySecondsKey = "talus_publisher_delivery_seconds"
	PublisherDroppedTotalKey    = "talus_publisher_dropped_total"
)

// Collectors for talus publishers.
var (
	PublisherCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: PublisherCyclesTotalKey,
		Help: "Cumulative number of publication cycles, by wake reason.",
	}, []string{"reason"})
	PublisherDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: PublisherDeliveriesTotalKey,
		Help: "Cumulative number of delivery attempts.",
	}, []string{"table", "status"})
	PublisherDeliverySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    PublisherDeliverySecondsKey,
		Help:    "Latency of item delivery.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
	}, []string{"status"})
	PublisherDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: PublisherDroppedTotalKey,
		Help: "Cumulative number of undecodable records dropped by publishers.",
	}, []string{"table"})
)

// TalusPublisherCollectors lists collectors used by talus publishers.
func TalusPublisherCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		PublisherCyclesTotal,
		PublisherDeliveriesTotal,
		PublisherDeliverySeconds,
		PublisherDroppedTotal,
	}
}
