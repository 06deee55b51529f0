package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "accounts_build_info",
			Help: "Accounts service build information.",
		},
		[]string{"version", "commit", "storage"},
	)
)

// InitBuildInfo registers accounts_build_info once and sets it to 1 for the
// running build.
func InitBuildInfo(version, commit, storage string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, commit, storage).Set(1)
}
