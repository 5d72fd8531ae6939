// ABOUTME: Entry point for coven-bridge, the call bridge in front of a background service
// ABOUTME: Commands: serve, init, health, call, token

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/2389/coven-bridge/internal/auth"
	"github.com/2389/coven-bridge/internal/calls"
	"github.com/2389/coven-bridge/internal/config"
	"github.com/2389/coven-bridge/internal/gateway"
	"github.com/2389/coven-bridge/internal/transport"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                        _          _     _
  ___ _____   _____ _ __        | |__  _ __(_) __| | __ _  ___
 / __/ _ \ \ / / _ \ '_ \ _____ | '_ \| '__| |/ _' |/ _' |/ _ \
| (_| (_) \ V /  __/ | | |_____|| |_) | |  | | (_| | (_| |  __/
 \___\___/ \_/ \___|_| |_|      |_.__/|_|  |_|\__,_|\__, |\___|
                                                    |___/
`

func usage() {
	fmt.Println("Usage: coven-bridge <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                      Start the bridge")
	fmt.Println("  init                       Write a starter config file")
	fmt.Println("  health                     Check bridge health")
	fmt.Println("  call METHOD [DATA]         Dispatch one call; streaming calls print their updates")
	fmt.Println("  token --caller NAME        Issue a bearer token signed with auth.jwt_secret")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "call":
		err = runCall(ctx, os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Service:   %s\n", cfg.Service.Addr)
	green.Print("    ▶ ")
	fmt.Printf("Buffering: ")
	if cfg.Bridge.Buffering() {
		fmt.Printf("on (max %d, replay %s)\n", cfg.Bridge.MaxBufferedUpdates, cfg.Bridge.ReplayTTL)
	} else {
		yellow.Println("off")
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ! ")
		fmt.Println("auth disabled")
	}
	fmt.Println()

	logger.Info("starting coven-bridge",
		"config", configPath,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
		"service_addr", cfg.Service.Addr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	return gw.Run(ctx)
}

func runInit() error {
	configPath := config.DefaultPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(config.Starter), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Config written to %s\n", configPath)
	fmt.Println("  Set COVEN_BRIDGE_JWT_SECRET (32+ bytes) to require bearer tokens.")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	for _, path := range []string{"/health", "/health/ready"} {
		url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		fmt.Printf("%-14s %s\n", path, strings.TrimSpace(string(body)))
	}
	return nil
}

func dialBridge(cfg *config.Config) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if token := os.Getenv("COVEN_BRIDGE_TOKEN"); token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(auth.BearerCredentials{Token: token, Insecure: true}))
	}
	return grpc.NewClient(cfg.Server.GRPCAddr, opts...)
}

func runCall(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: coven-bridge call METHOD [DATA]")
	}
	inv := calls.Invocation{Name: args[0]}
	if len(args) == 2 {
		inv.Payload = []byte(args[1])
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	conn, err := dialBridge(cfg)
	if err != nil {
		return fmt.Errorf("connecting to bridge: %w", err)
	}
	defer conn.Close()

	client := transport.NewBridgeClient(conn)
	reply, err := client.Dispatch(ctx, inv)
	if err != nil {
		return describeCallError(err)
	}

	if !inv.IsStreaming() {
		printReply(reply)
		return nil
	}

	token, err := calls.DecodeStreamAck(reply.Data)
	if err != nil {
		return fmt.Errorf("reading stream acknowledgment: %w", err)
	}
	color.New(color.FgHiBlack).Printf("stream %s\n", token)

	listener, err := client.Listen(ctx, token)
	if err != nil {
		return describeCallError(err)
	}
	for {
		data, err := listener.Recv()
		if errors.Is(err, io.EOF) {
			color.New(color.FgGreen).Println("✓ done")
			return nil
		}
		if err != nil {
			return describeCallError(err)
		}
		fmt.Println(string(data))
	}
}

func printReply(reply calls.Reply) {
	switch {
	case reply.Silent:
		color.New(color.FgHiBlack).Println("(no reply)")
	case reply.Absent():
		color.New(color.FgHiBlack).Println("(absent)")
	case reply.Value != nil:
		fmt.Println(reply.Value)
	default:
		fmt.Println(string(reply.Data))
	}
}

func describeCallError(err error) error {
	var ce *calls.Error
	if errors.As(err, &ce) {
		return fmt.Errorf("call failed [%s]: %s", ce.Code, ce.Message)
	}
	return err
}

func runToken(args []string) error {
	var caller string
	ttl := 30 * 24 * time.Hour
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--caller":
			if i+1 >= len(args) {
				return errors.New("--caller requires a value")
			}
			caller = args[i+1]
			i++
		case strings.HasPrefix(arg, "--caller="):
			caller = strings.TrimPrefix(arg, "--caller=")
		case strings.HasPrefix(arg, "--ttl="):
			d, err := time.ParseDuration(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if strings.TrimSpace(caller) == "" {
		return errors.New("--caller flag is required")
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not set")
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(caller, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}
