package receipt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	imagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "receipt_ocr_images_total",
		Help: "Processed images by outcome.",
	}, []string{"outcome"})

	stageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "receipt_ocr_stage_failures_total",
		Help: "Failed images by the pipeline stage that failed.",
	}, []string{"stage"})

	taxLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "receipt_ocr_tax_lookups_total",
		Help: "Tax status lookups by result.",
	}, []string{"result"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "receipt_ocr_batch_duration_seconds",
		Help:    "Wall time to process one upload batch.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
