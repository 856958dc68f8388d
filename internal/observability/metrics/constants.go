// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Label values.
const (
	// ResultSuccess marks a reload that published a new snapshot.
	ResultSuccess = "success"
	// ResultFailure marks a reload that kept the previous snapshot.
	ResultFailure = "failure"
	// UnknownCategory is used when a reported error carries no category.
	UnknownCategory = "unknown"
)

// Bucket constants for histograms.
const (
	BucketStart100us = 0.0001
	BucketStart64B   = 64.0

	BucketFactor2 = 2
	BucketFactor4 = 4

	BucketCount8  = 8
	BucketCount12 = 12
)

// ShutdownTimeout bounds the graceful stop of the metrics HTTP server.
const ShutdownTimeout = 5 * time.Second
