// Command client is the redbackup CLI: create, list, and restore backups
// against a node over the wire protocol in internal/wire.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redbackup/backend/internal/clientapp"
	"github.com/redbackup/backend/internal/observability"
	"github.com/redbackup/backend/internal/progress"
	"github.com/redbackup/backend/internal/validation"
)

const (
	defaultHostname = "0.0.0.0"
	defaultPort     = 8080
	defaultStorage  = "/tmp/"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	hostname := fs.String("node-hostname", defaultHostname, "node hostname or IP")
	port := fs.Int("node-port", defaultPort, "node port")
	storage := fs.String("chunk-index-storage", defaultStorage, "directory for chunk-index files")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	logger := observability.NewLogger("redbackup-client", "dev", os.Stderr)

	if err := validation.ValidateHostname(*hostname); err != nil {
		return fail(logger, err)
	}
	if err := validation.ValidateRangeInt(*port, 1, 65535); err != nil {
		return fail(logger, err)
	}
	if err := validation.ValidateChunkIndexStorage(*storage); err != nil {
		return fail(logger, err)
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: client [--node-hostname H] [--node-port P] [--chunk-index-storage DIR] create|list|restore ...")
		return 1
	}

	nodeAddr := fmt.Sprintf("%s:%d", *hostname, *port)
	node := clientapp.NewTCPNodeClient(nodeAddr, 30*time.Second)
	ctx := context.Background()

	switch rest[0] {
	case "create":
		return runCreate(ctx, logger, node, nodeAddr, *storage, rest[1:])
	case "list":
		return runList(ctx, logger, node)
	case "restore":
		return runRestore(ctx, logger, node, rest[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", rest[0])
		return 1
	}
}

func runCreate(ctx context.Context, logger *observability.Logger, node clientapp.NodeClient, nodeAddr, storage string, args []string) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	excludeFrom := fs.String("exclude-from", "", "file listing glob exclude patterns, one per line")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	positional := fs.Args()
	if len(positional) < 2 {
		fmt.Fprintln(os.Stderr, "usage: client create <EXPIRATION %Y-%m-%dT%H:%M> <BACKUP_DIR> [--exclude-from FILE]")
		return 1
	}
	if err := fs.Parse(positional[2:]); err != nil {
		return 1
	}

	expiration, err := validation.ParseExpiration(positional[0], time.Now())
	if err != nil {
		return fail(logger, err)
	}
	backupDir := positional[1]
	if err := validation.ValidateBackupRoot(backupDir); err != nil {
		return fail(logger, err)
	}

	var excludes []string
	if *excludeFrom != "" {
		excludes, err = readExcludePatterns(*excludeFrom)
		if err != nil {
			return fail(logger, err)
		}
	}

	sink := make(chan progress.Snapshot, 1)
	done := make(chan struct{})
	go reportProgress(sink, done)

	started := time.Now()
	backupID, err := clientapp.Create(ctx, clientapp.CreateOptions{
		Node:              node,
		NodeAddr:          nodeAddr,
		BackupDir:         backupDir,
		Excludes:          excludes,
		Expiration:        expiration,
		ChunkIndexStorage: storage,
		Logger:            logger,
		Sink:              sink,
	})
	close(sink)
	<-done
	if err != nil {
		return fail(logger, err)
	}

	logger.BackupCreated(backupID, -1, time.Since(started))
	fmt.Println(backupID)
	return 0
}

func runList(ctx context.Context, logger *observability.Logger, node clientapp.NodeClient) int {
	entries, err := clientapp.List(ctx, node)
	if err != nil {
		return fail(logger, err)
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\n", e.Identifier, e.Expiration.Format(time.RFC3339))
	}
	return 0
}

func runRestore(ctx context.Context, logger *observability.Logger, node clientapp.NodeClient, args []string) int {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: client restore <BACKUP_ID(64-hex)> <RESTORE_DIR>")
		return 1
	}

	backupID := fs.Arg(0)
	if err := validation.ValidateBackupID(backupID); err != nil {
		return fail(logger, err)
	}
	restoreDir := fs.Arg(1)

	sink := make(chan progress.Snapshot, 1)
	done := make(chan struct{})
	go reportProgress(sink, done)

	started := time.Now()
	err := clientapp.Restore(ctx, clientapp.RestoreOptions{Node: node, BackupID: backupID, RestoreDir: restoreDir, Sink: sink})
	close(sink)
	<-done
	if err != nil {
		return fail(logger, err)
	}

	logger.BackupRestored(backupID, -1, time.Since(started))
	return 0
}

func reportProgress(sink <-chan progress.Snapshot, done chan<- struct{}) {
	defer close(done)
	for snap := range sink {
		fmt.Fprintf(os.Stderr, "\r%d/%d (etr %s)   ", snap.Completed, snap.Total, snap.ETR())
	}
	fmt.Fprintln(os.Stderr)
}

func readExcludePatterns(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read exclude-from file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := validation.ValidateExcludePattern(line); err != nil {
			return nil, err
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}

func fail(logger *observability.Logger, err error) int {
	logger.Error(err, "Huston, we have a problem")
	fmt.Fprintf(os.Stderr, "Huston, we have a problem: %v\n", err)
	return 1
}
