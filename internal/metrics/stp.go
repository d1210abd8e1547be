// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// STPOperations tracks submessage/payload transform operations.
	STPOperations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stp",
			Name:      "operations_total",
			Help:      "Total number of submessage transform pipeline operations by kind and outcome",
		},
		[]string{"operation", "outcome"}, // encode_payload/decode_payload/encode_submessage/decode_submessage/encode_rtps/decode_rtps, ok/error
	)

	// STPOperationDuration tracks transform pipeline operation durations.
	STPOperationDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stp",
			Name:      "operation_duration_seconds",
			Help:      "Submessage transform pipeline operation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to 163ms
		},
		[]string{"operation"},
	)

	// STPSubmessagesPadded tracks submessages replaced with PAD after a
	// decode failure (tampered ciphertext, wrong key, truncated body).
	STPSubmessagesPadded = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stp",
			Name:      "submessages_padded_total",
			Help:      "Total number of protected submessages that failed to decode and were padded",
		},
	)

	// STPPayloadSize tracks plaintext payload sizes passed through the
	// pipeline, to size buffer pools and spot outliers.
	STPPayloadSize = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stp",
			Name:      "payload_size_bytes",
			Help:      "Size of payloads passed through the transform pipeline",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MB
		},
		[]string{"direction"}, // encode, decode
	)
)
