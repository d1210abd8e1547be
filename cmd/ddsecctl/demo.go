// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/ddsec/internal/logger"
	"github.com/sage-x-project/ddsec/internal/metrics"
	"github.com/sage-x-project/ddsec/rtps/guid"
	"github.com/sage-x-project/ddsec/security/domain"
	"github.com/sage-x-project/ddsec/security/handshake"
	"github.com/sage-x-project/ddsec/security/plugin"
	"github.com/sage-x-project/ddsec/security/plugin/fakeaccess"
	"github.com/sage-x-project/ddsec/security/plugin/fakeauth"
	"github.com/sage-x-project/ddsec/security/plugin/fakecrypto"
	"github.com/sage-x-project/ddsec/security/pss"
	"github.com/sage-x-project/ddsec/security/ser"
)

var demoMetricsAddr string

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a scripted two-participant handshake against the fake plugins",
	Long: `demo wires a single security/domain.Domain on top of the
in-process fakeauth/fakeaccess/fakecrypto plugins, admits two
participants through a discovery-driven handshake, matches a writer
against a reader, and encodes/decodes one payload through the result —
the same sequence security/domain's own end-to-end test drives, run as
a standalone process so the Prometheus counters it touches are visible
on a real /metrics endpoint.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().StringVar(&demoMetricsAddr, "metrics-addr", "", "serve /metrics on this address and wait for Ctrl+C (e.g. :9090)")
	rootCmd.AddCommand(demoCmd)
}

// loopbackTransport delivers every outbound handshake message straight
// back into the same Domain's coordinator, modeling two participants
// sharing one process the way a single-process demo can.
type loopbackTransport struct {
	d *domain.Domain
}

func (lt *loopbackTransport) Send(msg handshake.Message) error {
	return lt.d.DeliverHandshakeMessage(msg)
}

var protectedAttrs = plugin.SecurityAttributes{
	Plugin:   plugin.AttrValid | plugin.AttrIsPayloadProtected,
	Security: plugin.AttrValid | plugin.AttrIsPayloadProtected | plugin.AttrIsSubmessageProtected,
}

func runDemo(cmd *cobra.Command, args []string) error {
	log := logger.NewDefaultLogger()
	if demoMetricsAddr != "" {
		stop, err := startMetricsServer(demoMetricsAddr)
		if err != nil {
			return err
		}
		defer stop()
	}

	auth := fakeauth.New()
	access := fakeaccess.New(
		plugin.SecurityAttributes{Security: plugin.AttrValid},
		protectedAttrs,
		nil,
	)
	crypto := fakecrypto.New(auth)

	transport := &loopbackTransport{}
	d, err := domain.New(domain.Config{
		DomainID:     1,
		Plugins:      plugin.Config{Authentication: auth, AccessControl: access, Crypto: crypto},
		HandshakeTTL: time.Minute,
	}, transport)
	if err != nil {
		return fmt.Errorf("build domain: %w", err)
	}
	transport.d = d
	defer func() { _ = d.Close() }()

	log.Info("creating participants")
	alice, err := d.CheckCreateParticipant(pss.CreateParticipantConfig{CandidatePrefix: guid.Prefix{0x01}})
	if err != nil {
		return fmt.Errorf("create participant alice: %w", err)
	}
	bob, err := d.CheckCreateParticipant(pss.CreateParticipantConfig{CandidatePrefix: guid.Prefix{0x02}})
	if err != nil {
		return fmt.Errorf("create participant bob: %w", err)
	}

	log.Info("running handshake")
	if err := d.BeginHandshake(alice, bob); err != nil {
		return fmt.Errorf("begin handshake alice->bob: %w", err)
	}
	if err := d.BeginHandshake(bob, alice); err != nil {
		return fmt.Errorf("begin handshake bob->alice: %w", err)
	}

	if proxy, ok := d.Proxy(bob.GUID); !ok || !proxy.Authenticated() {
		return fmt.Errorf("alice did not authenticate bob")
	}
	if proxy, ok := d.Proxy(alice.GUID); !ok || !proxy.Authenticated() {
		return fmt.Errorf("bob did not authenticate alice")
	}
	log.Info("handshake complete", logger.Bool("alice_authenticated", true), logger.Bool("bob_authenticated", true))

	writer, err := d.RegisterWriter(bob, guid.New(bob.GUID.Prefix, guid.EntityID{0, 0, 0, 1}), "demo-topic", nil)
	if err != nil {
		return fmt.Errorf("register writer: %w", err)
	}
	reader, err := d.RegisterReader(alice, guid.New(alice.GUID.Prefix, guid.EntityID{0, 0, 0, 1}), "demo-topic", nil)
	if err != nil {
		return fmt.Errorf("register reader: %w", err)
	}

	matched, _, err := d.MatchRemoteWriterEnabled(reader, ser.RemoteEndpointInfo{
		GUID:            writer.GUID,
		ParticipantGUID: bob.GUID,
		Attrs:           protectedAttrs,
	}, ser.MatchOptions{})
	if err != nil || !matched {
		return fmt.Errorf("match remote writer: matched=%v err=%w", matched, err)
	}
	matched, _, err = d.MatchRemoteReaderEnabled(writer, ser.RemoteEndpointInfo{
		GUID:            reader.GUID,
		ParticipantGUID: alice.GUID,
		Attrs:           protectedAttrs,
	}, ser.MatchOptions{})
	if err != nil || !matched {
		return fmt.Errorf("match remote reader: matched=%v err=%w", matched, err)
	}
	log.Info("endpoint match complete", logger.String("topic", "demo-topic"))

	writerRemoteHandles := reader.MatchedCryptoHandles(nil)
	if len(writerRemoteHandles) != 1 {
		return fmt.Errorf("expected exactly one matched writer handle, got %d", len(writerRemoteHandles))
	}

	plaintext := []byte("hello from ddsecctl demo")
	cipher, err := d.EncodeSerializedPayload(writer, plaintext)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	plain, err := d.DecodeSerializedPayload(reader, writerRemoteHandles[0], cipher)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if string(plain) != string(plaintext) {
		return fmt.Errorf("round trip mismatch: got %q, want %q", plain, plaintext)
	}
	log.Info("payload round trip ok", logger.String("plaintext", string(plain)))

	d.DeregisterEndpoint(writer)
	d.DeregisterEndpoint(reader)
	d.DeregisterParticipant(alice)
	d.DeregisterParticipant(bob)

	log.Info("demo complete")

	if demoMetricsAddr != "" {
		log.Info("serving metrics", logger.String("addr", demoMetricsAddr))
		waitForSignal()
	}
	return nil
}

func startMetricsServer(addr string) (stop func(), err error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if serveErr := server.ListenAndServe(); serveErr != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "metrics server error: %v\n", serveErr)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
}
