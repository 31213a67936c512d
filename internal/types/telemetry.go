package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricBatchRecords         = "BatchRecords"
	MetricBatchCells           = "BatchCells"
	MetricBatchCellsFailed     = "BatchCellsFailed"
	MetricBatchMarineDiscarded = "BatchMarineDiscarded"
	MetricBatchDuration        = "BatchDuration"

	// Dimension Keys
	DimEnvironment = "Environment"

	// Metric Namespace
	MetricNamespace = "PraiaFinder"
)
