// Command node runs the redbackup storage node: it serves the wire
// protocol's request/response exchange and runs the background integrity
// and replication tasks.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redbackup/backend/internal/blobstore"
	"github.com/redbackup/backend/internal/metadata"
	"github.com/redbackup/backend/internal/nodeservice"
	"github.com/redbackup/backend/internal/observability"
	"github.com/redbackup/backend/internal/ratelimit"
	"github.com/redbackup/backend/internal/schedule"
	"github.com/redbackup/backend/internal/validation"
)

const (
	defaultIP        = "0.0.0.0"
	defaultPort      = 8080
	defaultStorage   = "./data/"
	defaultDBFile    = "db.sqlite3"
	defaultKnownPort = 8080
)

// knownNodes collects repeated --known-node flag values.
type knownNodes []string

func (k *knownNodes) String() string     { return strings.Join(*k, ",") }
func (k *knownNodes) Set(s string) error { *k = append(*k, s); return nil }

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("node", flag.ContinueOnError)
	var known knownNodes
	fs.Var(&known, "known-node", "HOST[:PORT] of a peer node, repeatable")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ip, port, storageDir, dbFile := defaultIP, defaultPort, defaultStorage, defaultDBFile
	rest := fs.Args()
	if len(rest) > 0 {
		ip = rest[0]
	}
	if len(rest) > 1 {
		p, err := strconv.Atoi(rest[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid port %q: %v\n", rest[1], err)
			return 1
		}
		port = p
	}
	if len(rest) > 2 {
		storageDir = rest[2]
	}
	if len(rest) > 3 {
		dbFile = rest[3]
	}

	logger := observability.NewLogger("redbackup-node", "dev", os.Stdout)
	metrics := observability.NewMetrics()

	if err := validation.ValidateHostname(ip); err != nil {
		return fail(logger, err)
	}
	if err := validation.ValidateRangeInt(port, 1, 65535); err != nil {
		return fail(logger, err)
	}

	peerAddrs, err := resolveKnownNodes(known)
	if err != nil {
		return fail(logger, err)
	}

	meta, err := metadata.Open(dbFile)
	if err != nil {
		return fail(logger, err)
	}
	defer meta.Close()

	blobs, err := blobstore.Open(storageDir)
	if err != nil {
		return fail(logger, err)
	}

	limiter := ratelimit.NewTokenBucket(200, 400)
	svc := nodeservice.New(meta, blobs, logger, metrics, limiter)

	peers := make([]schedule.Peer, 0, len(peerAddrs))
	for _, addr := range peerAddrs {
		peers = append(peers, schedule.NewTCPPeer(addr, 10*time.Second))
	}
	runner := schedule.New(meta, blobs, peers, logger, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runner.Run(ctx)
	go serveMetrics(metrics)

	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fail(logger, err)
	}
	defer ln.Close()

	logger.Info(fmt.Sprintf("node listening on %s", addr))

	serveErr := make(chan error, 1)
	go func() { serveErr <- svc.Serve(ln) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutting down")
		cancel()
		ln.Close()
		return 0
	case err := <-serveErr:
		return fail(logger, err)
	}
}

func resolveKnownNodes(known knownNodes) ([]string, error) {
	out := make([]string, 0, len(known))
	for _, raw := range known {
		host, portStr, err := splitHostPort(raw)
		if err != nil {
			return nil, err
		}
		if err := validation.ValidateHostname(host); err != nil {
			return nil, err
		}
		ips, err := net.LookupIP(host)
		if err == nil {
			found := false
			for _, ip := range ips {
				if ip.To4() != nil {
					found = true
					break
				}
			}
			if len(ips) > 0 && !found {
				return nil, fmt.Errorf("known-node %s: no IPv4 address found", raw)
			}
		}
		out = append(out, net.JoinHostPort(host, portStr))
	}
	return out, nil
}

func splitHostPort(raw string) (string, string, error) {
	if host, port, err := net.SplitHostPort(raw); err == nil {
		return host, port, nil
	}
	return raw, strconv.Itoa(defaultKnownPort), nil
}

func serveMetrics(metrics *observability.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	http.ListenAndServe("127.0.0.1:9090", mux)
}

func fail(logger *observability.Logger, err error) int {
	logger.Error(err, "Huston, we have a problem")
	fmt.Fprintf(os.Stderr, "Huston, we have a problem: %v\n", err)
	return 1
}
