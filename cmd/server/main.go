package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omochice/alternet/pkg/alternet"
	"github.com/omochice/alternet/pkg/protocol"
)

type serverFlags struct {
	port        int
	mode        string
	echo        bool
	broadcast   bool
	verbose     bool
	metricsAddr string
}

func main() {
	var f serverFlags

	cmd := &cobra.Command{
		Use:   "alternet-server",
		Short: "Accept TCP clients and print what they send",
		Long: `Listen on a TCP port and print every unit received from a client.

With --echo each unit is written back to its sender; with --broadcast it
is relayed to every connected client.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), f)
		},
	}

	cmd.Flags().IntVarP(&f.port, "port", "p", 8080, "Port to listen on (0 picks a free port)")
	cmd.Flags().StringVarP(&f.mode, "mode", "m", "text", "Delivery mode: raw, text or framed")
	cmd.Flags().BoolVar(&f.echo, "echo", false, "Write every unit back to its sender")
	cmd.Flags().BoolVar(&f.broadcast, "broadcast", false, "Relay every unit to all clients")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runServer(ctx context.Context, f serverFlags) error {
	mode, err := protocol.ParseMode(f.mode)
	if err != nil {
		return err
	}

	logger, err := newLogger(f.verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	h := alternet.Handlers{
		OnConnect: func(e alternet.Endpoint, addr alternet.RemoteAddress) {
			fmt.Printf("*** %s connected (%d online) ***\n", addr, e.NumConnectedClients())
		},
		OnDisconnect: func(e alternet.Endpoint, addr alternet.RemoteAddress) {
			fmt.Printf("*** %s disconnected (%d online) ***\n", addr, e.NumConnectedClients())
		},
		OnReceiveBytes: func(e alternet.Endpoint, addr alternet.RemoteAddress, data []byte) {
			if mode != protocol.ModeText {
				fmt.Printf("[%s]: %d bytes\n", addr, len(data))
			}
			relay(e, logger, addr, data, f)
		},
	}
	if mode == protocol.ModeText {
		h.OnReceiveText = func(_ alternet.Endpoint, addr alternet.RemoteAddress, text string) {
			fmt.Printf("[%s]: %s\n", addr, text)
		}
	}
	if mode == protocol.ModeFramed {
		h.OnReceiveMessage = func(_ alternet.Endpoint, addr alternet.RemoteAddress, msg *protocol.Message) {
			fmt.Printf("[%s]: %v\n", addr, msg.Fields)
		}
	}

	srv, err := alternet.NewServer(f.port, h,
		alternet.WithMode(mode),
		alternet.WithLogger(logger),
		alternet.WithRegisterer(reg),
	)
	if err != nil {
		return err
	}
	logger.Info("listening", zap.Int("port", srv.Port()), zap.Stringer("mode", mode))

	if f.metricsAddr != "" {
		metricsSrv := &http.Server{
			Addr:    f.metricsAddr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer metricsSrv.Close()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	err = srv.Dispose()
	<-srv.Done()
	return err
}

// relay runs on the loop goroutine, so a slow client stalls the server.
func relay(e alternet.Endpoint, logger *zap.Logger, from alternet.RemoteAddress, data []byte, f serverFlags) {
	if f.echo {
		if _, err := e.SendTo(from, data); err != nil {
			logger.Warn("echo failed", zap.Stringer("remote", from), zap.Error(err))
		}
	}
	if f.broadcast {
		srv, ok := e.(*alternet.Server)
		if !ok {
			return
		}
		if _, err := srv.SendToAll(data); err != nil {
			logger.Warn("broadcast failed", zap.Error(err))
		}
	}
}
