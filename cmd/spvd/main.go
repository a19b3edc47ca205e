// Command spvd runs the Handshake SPV core: it bootstraps the header
// chain, maintains P2P sessions to the configured bootstrap peers,
// drives header sync in the background, and serves name resolution
// over a local Unix-socket RPC endpoint for a DoH/DoT front end to
// call (SPEC_FULL.md §4 "cmd/spvd").
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/rpc"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Acktarius/HNSGo-sub000/checkpoint"
	"github.com/Acktarius/HNSGo-sub000/config"
	"github.com/Acktarius/HNSGo-sub000/engine"
	"github.com/Acktarius/HNSGo-sub000/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML/JSON config file (optional, env vars override)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spvd: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(os.Stdout, true, cfg.LogLevel)

	cp, err := loadCheckpoint(cfg)
	if err != nil {
		log.Errorf("loading checkpoint: %v", err)
		os.Exit(1)
	}

	e, err := engine.New(cfg, cp, log)
	if err != nil {
		log.Errorf("starting engine: %v", err)
		os.Exit(1)
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, addr := range cfg.Bootstrap {
		go e.MaintainPeer(ctx, addr)
	}
	go e.RunHeaderSync(ctx, 5*time.Second)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", e.MetricsHandler())
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warnf("metrics server stopped: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	listener, err := serveRPC(cfg.RPCSocketPath, e, log)
	if err != nil {
		log.Errorf("starting rpc listener: %v", err)
		os.Exit(1)
	}
	defer listener.Close()

	log.Infof("spvd listening on %s", cfg.RPCSocketPath)
	<-ctx.Done()
	log.Infof("spvd shutting down")
}

func loadCheckpoint(cfg config.Config) (engine.CheckpointSource, error) {
	blob, err := os.ReadFile(cfg.CheckpointPath)
	if err != nil {
		return engine.CheckpointSource{}, fmt.Errorf("read checkpoint %s: %w", cfg.CheckpointPath, err)
	}
	return engine.CheckpointSource{
		Blob:           blob,
		ExpectedHeight: cfg.CheckpointHeight,
		Witness: checkpoint.Witness{
			FirstHeaderNonce: cfg.CheckpointFirstNonce,
			LastHeaderNonce:  cfg.CheckpointLastNonce,
		},
	}, nil
}

// ResolveService exposes Engine.Resolve over net/rpc. There is no
// message-queue or gRPC framework anywhere in the pack that fits a
// single local caller talking to one process over a Unix socket, so
// this uses the standard library's net/rpc — see DESIGN.md.
type ResolveService struct {
	engine *engine.Engine
}

// ResolveArgs is the RPC request: a raw DNS question name, type and
// class plus the caller's transaction id to stamp onto the reply.
type ResolveArgs struct {
	Qname  string
	Qtype  uint16
	Qclass uint16
	ID     uint16
}

// ResolveReply carries the packed DNS response wire bytes.
type ResolveReply struct {
	Packed []byte
}

// Resolve answers one DNS question. Errors signal "not a Handshake
// name" (via the wrapped sentinel) so the RPC caller's own upstream
// ICANN fallback can take over; everything else is a packed SERVFAIL.
func (svc *ResolveService) Resolve(args *ResolveArgs, reply *ResolveReply) error {
	packed, err := svc.engine.Resolve(context.Background(), args.Qname, args.Qtype, args.Qclass, args.ID)
	if err != nil {
		return err
	}
	reply.Packed = packed
	return nil
}

func serveRPC(socketPath string, e *engine.Engine, log logging.Logger) (net.Listener, error) {
	_ = os.Remove(socketPath)

	server := rpc.NewServer()
	if err := server.RegisterName("Resolver", &ResolveService{engine: e}); err != nil {
		return nil, err
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				log.Debugf("rpc listener closed: %v", err)
				return
			}
			go server.ServeConn(conn)
		}
	}()

	return listener, nil
}
