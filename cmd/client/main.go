package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/alternet/pkg/alternet"
	"github.com/omochice/alternet/pkg/protocol"
)

type clientFlags struct {
	host    string
	port    int
	mode    string
	verbose bool
}

func main() {
	var f clientFlags

	cmd := &cobra.Command{
		Use:   "alternet-client",
		Short: "Connect to a TCP server and send lines read from stdin",
		Long: `Connect to a server and send every line typed on stdin.

In framed mode each line is sent as a structured message with a "text"
field. Type 'quit' or 'exit' to leave.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVar(&f.host, "host", "localhost", "Server host")
	cmd.Flags().IntVarP(&f.port, "port", "p", 8080, "Server port")
	cmd.Flags().StringVarP(&f.mode, "mode", "m", "text", "Delivery mode: raw, text or framed")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Enable debug logging")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func runClient(ctx context.Context, f clientFlags) error {
	mode, err := protocol.ParseMode(f.mode)
	if err != nil {
		return err
	}

	var logger *zap.Logger
	if f.verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h := alternet.Handlers{
		OnConnect: func(_ alternet.Endpoint, addr alternet.RemoteAddress) {
			fmt.Printf("*** connected to %s ***\n", addr)
		},
		OnDisconnect: func(_ alternet.Endpoint, addr alternet.RemoteAddress) {
			fmt.Printf("*** %s closed the connection ***\n", addr)
			cancel()
		},
	}
	switch mode {
	case protocol.ModeFramed:
		h.OnReceiveMessage = func(_ alternet.Endpoint, _ alternet.RemoteAddress, msg *protocol.Message) {
			if text, ok := msg.String("text"); ok {
				fmt.Println(text)
				return
			}
			fmt.Println(msg.Fields)
		}
	case protocol.ModeText:
		h.OnReceiveText = func(_ alternet.Endpoint, _ alternet.RemoteAddress, text string) {
			fmt.Print(text)
		}
	default:
		h.OnReceiveBytes = func(_ alternet.Endpoint, _ alternet.RemoteAddress, data []byte) {
			os.Stdout.Write(data)
		}
	}

	c, err := alternet.DialContext(ctx, f.host, f.port, h,
		alternet.WithMode(mode),
		alternet.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	// The scanner cannot be interrupted, so it stays outside the group.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("failed to read input", zap.Error(err))
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return c.Dispose()
	})
	g.Go(func() error {
		defer cancel()
		fmt.Println("Type your messages (or 'quit' to exit):")
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				text := strings.TrimSpace(line)
				if text == "" {
					continue
				}
				if text == "quit" || text == "exit" {
					return nil
				}
				if err := send(c, mode, text); err != nil {
					return err
				}
			}
		}
	})
	return g.Wait()
}

func send(c *alternet.Client, mode protocol.Mode, text string) error {
	var err error
	if mode == protocol.ModeFramed {
		_, err = c.SendMessage(protocol.NewMessage(map[string]any{"text": text}))
	} else {
		_, err = c.SendText(text + "\n")
	}
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
