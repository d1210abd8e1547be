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
	// SEREndpointsRegistered tracks RegisterWriter/RegisterReader calls.
	SEREndpointsRegistered = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ser",
			Name:      "endpoints_registered_total",
			Help:      "Total number of endpoints registered with the endpoint security registry",
		},
		[]string{"kind"}, // writer, reader
	)

	// SEREndpointsActive tracks endpoints currently registered.
	SEREndpointsActive = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ser",
			Name:      "endpoints_active",
			Help:      "Number of endpoints currently registered with the endpoint security registry",
		},
		[]string{"kind"}, // writer, reader
	)

	// SERMatchAttempts tracks MatchRemoteWriterEnabled/MatchRemoteReaderEnabled
	// outcomes.
	SERMatchAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ser",
			Name:      "match_attempts_total",
			Help:      "Total number of remote-endpoint match attempts by side and outcome",
		},
		[]string{"side", "outcome"}, // side: reader, writer; outcome: matched, rejected, error
	)

	// SEREndpointsDeregistered tracks Deregister calls.
	SEREndpointsDeregistered = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ser",
			Name:      "endpoints_deregistered_total",
			Help:      "Total number of endpoints deregistered",
		},
	)
)
