package obs

import (
	"runtime"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	gatewayInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "barrier_build_info",
			Help:        "Constant 1 labelled with the running gateway build and gate mode.",
			ConstLabels: prometheus.Labels{"go_version": runtime.Version()},
		},
		[]string{"version", "commit", "dry_run"},
	)
)

// InitBuildInfo publishes the build labels. Earlier label sets are dropped so
// only one series is exported.
func InitBuildInfo(version, commit string, dryRun bool) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(gatewayInfo)
	})
	gatewayInfo.Reset()
	gatewayInfo.WithLabelValues(version, commit, strconv.FormatBool(dryRun)).Set(1)
}
