package common

// Version is set at build time with -ldflags "-X ...common.Version=...".
var Version = "dev"

const (
	PackageName = "github.com/ruteri/s3-resource-publisher"

	// MetricsNamespace prefixes every exported Prometheus metric.
	MetricsNamespace = "s3_publisher"
)
