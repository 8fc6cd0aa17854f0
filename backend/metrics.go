// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package backend

import (
	"github.com/vechain/forkbackend/log"
	"github.com/vechain/forkbackend/metrics"
)

var (
	logger = log.WithContext("pkg", "backend")

	metricForkSwitch = metrics.LazyLoadCounter("backend_fork_switch_count")
	metricForks      = metrics.LazyLoadGauge("backend_fork_count")
	metricSnapshots  = metrics.LazyLoadCounterVec("backend_snapshot_count", []string{"op"})
)

func countSnapshot(op string) {
	metricSnapshots().AddWithLabel(1, map[string]string{"op": op})
}
