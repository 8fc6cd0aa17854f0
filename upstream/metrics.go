// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package upstream

import (
	"github.com/vechain/forkbackend/log"
	"github.com/vechain/forkbackend/metrics"
)

var (
	logger = log.WithContext("pkg", "upstream")

	metricRequests        = metrics.LazyLoadCounterVec("upstream_requests_count", []string{"op", "result"})
	metricRequestDuration = metrics.LazyLoadHistogram("upstream_request_duration_ms", metrics.BucketRequestMs)
)
