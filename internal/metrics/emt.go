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
	// EMTEntriesActive tracks the number of crypto-handle entries currently
	// held by a security/emt.Table.
	EMTEntriesActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "emt",
			Name:      "entries_active",
			Help:      "Number of remote-GUID-pair entries currently held by the entity crypto-handle table",
		},
	)

	// EMTEntriesCreated tracks FindOrCreate calls that created a new entry.
	EMTEntriesCreated = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emt",
			Name:      "entries_created_total",
			Help:      "Total number of entity crypto-handle table entries created",
		},
	)

	// EMTTokensQueued tracks tokens queued for later delivery pending a
	// handshake token exchange.
	EMTTokensQueued = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emt",
			Name:      "tokens_queued_total",
			Help:      "Total number of crypto tokens queued on an entity entry awaiting drain",
		},
	)
)
