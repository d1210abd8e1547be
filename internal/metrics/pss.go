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
	// PSSLocalParticipants tracks locally created participants currently
	// held by a security/pss.State.
	PSSLocalParticipants = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pss",
			Name:      "local_participants",
			Help:      "Number of locally created domain participants currently registered",
		},
	)

	// PSSRemoteParticipants tracks remote participant proxies.
	PSSRemoteParticipants = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pss",
			Name:      "remote_participants",
			Help:      "Number of remote participant proxies currently registered",
		},
	)

	// PSSParticipantsCreated tracks CheckCreateParticipant outcomes.
	PSSParticipantsCreated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pss",
			Name:      "participants_created_total",
			Help:      "Total number of CheckCreateParticipant calls by outcome",
		},
		[]string{"outcome"}, // accepted, rejected
	)

	// PSSParticipantsDeregistered tracks participant teardown.
	PSSParticipantsDeregistered = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pss",
			Name:      "participants_deregistered_total",
			Help:      "Total number of local participants deregistered",
		},
	)

	// PSSCryptoTokensSet tracks SetParticipantCryptoTokens calls.
	PSSCryptoTokensSet = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pss",
			Name:      "crypto_tokens_set_total",
			Help:      "Total number of participant crypto token installs",
		},
	)
)
