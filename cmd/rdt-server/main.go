// Command rdt-server runs a passive-open rdt-go endpoint, accepting one
// connection at a time and echoing received chunks back, with Prometheus
// metrics served alongside for observability.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"rdt-go/internal/rdtcli"
	"rdt-go/pkg/rdt"
	"rdt-go/pkg/rdtlog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr       string
		window     int
		lossRate   float64
		timeout    time.Duration
		metricAddr string
	)
	variant := rdtcli.NewVariantValue(rdt.SelectiveRepeat)

	cmd := &cobra.Command{
		Use:   "rdt-server",
		Short: "Accept a reliable GBN/SR connection over UDP and echo chunks back",
		RunE: func(cmd *cobra.Command, args []string) error {
			rdtlog.Banner("rdt-server", "1.0.0")
			v := variant.Variant

			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				if err := http.ListenAndServe(metricAddr, mux); err != nil {
					rdtlog.New("metrics").Warn("metrics server stopped: %v", err)
				}
			}()

			ln, err := rdt.Listen(v, addr, rdt.WithWindow(window), rdt.WithLossRate(lossRate), rdt.WithTimeout(timeout))
			if err != nil {
				return err
			}
			defer ln.Close()

			return serveLoop(cmd.Context(), ln)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", ":9000", "UDP address to listen on")
	flags.Var(variant, "variant", "protocol variant: gbn or sr")
	flags.IntVar(&window, "window", rdt.DefaultWindowSize, "initial window size")
	flags.Float64Var(&lossRate, "loss-rate", rdt.DefaultLossRateSR, "artificial packet loss probability")
	flags.DurationVar(&timeout, "timeout", rdt.DefaultTimeout, "retransmit timeout")
	flags.StringVar(&metricAddr, "metrics-addr", ":9001", "address to serve Prometheus /metrics on")

	return cmd
}

// serveLoop accepts connections one at a time (rdt-go has no
// multiplexing) and echoes every received chunk back to the sender until
// the peer closes.
func serveLoop(ctx context.Context, ln rdt.Listener) error {
	log := rdtlog.New("server")
	var errs *multierror.Error
	for {
		ep, err := ln.Accept(ctx)
		if err != nil {
			errs = multierror.Append(errs, err)
			return errs.ErrorOrNil()
		}
		log.Info("accepted connection %s", ep.ID())
		if err := echoUntilClosed(ctx, ep); err != nil {
			log.Warn("connection %s ended: %v", ep.ID(), err)
			errs = multierror.Append(errs, err)
		}
	}
}

func echoUntilClosed(ctx context.Context, ep rdt.Endpoint) error {
	defer ep.Close(ctx)
	for {
		chunk, err := ep.Recv(ctx)
		if err != nil {
			return err
		}
		if chunk == nil {
			return nil
		}
		if err := ep.Send(ctx, chunk); err != nil {
			return err
		}
	}
}
