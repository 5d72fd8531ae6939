// ABOUTME: Minimal background service for E2E testing of coven-bridge over gRPC.
// ABOUTME: Usage: fake-service [-addr localhost:50062] [-data /tmp/fake-service.db]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"

	"google.golang.org/grpc"

	"github.com/2389/coven-bridge/internal/host"
	"github.com/2389/coven-bridge/internal/transport"
)

func main() {
	addr := flag.String("addr", "localhost:50062", "gRPC listen address")
	dataPath := flag.String("data", "", "SQLite data file (empty disables data operations)")
	flag.Parse()

	if err := run(*addr, *dataPath); err != nil {
		log.Fatal(err)
	}
}

func run(addr, dataPath string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// The listening port doubles as the readiness token.
	port := lis.Addr().(*net.TCPAddr).Port
	h, err := host.New(host.Config{Port: port, DataPath: dataPath, Logger: logger})
	if err != nil {
		return err
	}
	defer h.Close()
	host.RegisterBuiltins(h)

	srv := grpc.NewServer()
	transport.NewServiceServer(h, logger).Register(srv)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	fmt.Fprintf(os.Stderr, "fake service listening on %s (port %d)\n", lis.Addr(), port)
	return srv.Serve(lis)
}
