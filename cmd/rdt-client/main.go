// Command rdt-client dials an rdt-go server, sends the lines of a file (or
// stdin) as a sequence of chunks, and prints back whatever the server
// echoes, then closes the connection gracefully.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"rdt-go/internal/rdtcli"
	"rdt-go/pkg/rdt"
	"rdt-go/pkg/rdtlog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr     string
		window   int
		lossRate float64
		timeout  time.Duration
		input    string
	)
	variant := rdtcli.NewVariantValue(rdt.SelectiveRepeat)

	cmd := &cobra.Command{
		Use:   "rdt-client",
		Short: "Dial an rdt-go server and exchange data over GBN or SR",
		RunE: func(cmd *cobra.Command, args []string) error {
			rdtlog.Banner("rdt-client", "1.0.0")
			v := variant.Variant

			in, err := openInput(input)
			if err != nil {
				return err
			}
			defer in.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			ep, err := rdt.Dial(ctx, v, addr, rdt.WithWindow(window), rdt.WithLossRate(lossRate), rdt.WithTimeout(timeout))
			if err != nil {
				return errors.Wrap(err, "rdt-client: dial")
			}
			defer ep.Close(ctx)

			return runSession(ctx, ep, in)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "127.0.0.1:9000", "server UDP address")
	flags.Var(variant, "variant", "protocol variant: gbn or sr")
	flags.IntVar(&window, "window", rdt.DefaultWindowSize, "initial window size")
	flags.Float64Var(&lossRate, "loss-rate", rdt.DefaultLossRateSR, "artificial packet loss probability")
	flags.DurationVar(&timeout, "timeout", rdt.DefaultTimeout, "retransmit timeout")
	flags.StringVar(&input, "input", "-", "file to send, or - for stdin")

	return cmd
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "rdt-client: open input")
	}
	return f, nil
}

// runSession streams in line by line as Send calls and prints every
// echoed chunk, matching the teacher's line-oriented client loops.
func runSession(ctx context.Context, ep rdt.Endpoint, in io.Reader) error {
	log := rdtlog.New(ep.ID().String())
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Bytes()
		if err := ep.Send(ctx, line); err != nil {
			return errors.Wrap(err, "rdt-client: send")
		}
		echo, err := ep.Recv(ctx)
		if err != nil {
			return errors.Wrap(err, "rdt-client: recv")
		}
		fmt.Printf("%s\n", echo)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "rdt-client: read input")
	}
	stats := ep.Stats()
	log.Info("done: sent=%d retransmits=%d window=%d", stats.PacketsSent, stats.Retransmits, stats.Window)
	return nil
}
