package validation

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	ErrInvalidPath   = errors.New("invalid file path")
	ErrPathNotExists = errors.New("path does not exist")
	ErrInvalidAddr   = errors.New("invalid listen address")
	ErrEmptyString   = errors.New("value must not be empty")
	ErrOutOfRange    = errors.New("value out of range")

	ErrInvalidHostname          = errors.New("invalid hostname")
	ErrInvalidPort              = errors.New("invalid port")
	ErrInvalidChunkIndexStorage = errors.New("invalid chunk-index storage directory")
	ErrInvalidBackupID          = errors.New("backup id must be 64 lowercase hex characters")
	ErrInvalidDateFormat        = errors.New("expiration date must match 2006-01-02T15:04 in UTC")
	ErrDateNotFarEnoughInFuture = errors.New("expiration date must be in the future")
	ErrExcludePattern           = errors.New("invalid exclude pattern")
	ErrNonExistingDirectory     = errors.New("directory does not exist")
)

// ExpirationLayout is the Go reference-time layout equivalent to the
// external interface's %Y-%m-%dT%H:%M grammar.
const ExpirationLayout = "2006-01-02T15:04"

var backupIDPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func ValidateFilePath(p string, mustExist bool) error {
	if p == "" {
		return ErrInvalidPath
	}
	if !filepath.IsAbs(p) {
		p = filepath.Clean(p)
	}
	if mustExist {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrPathNotExists, err)
		}
	}
	return nil
}

func ValidateAddr(addr string) error {
	if addr == "" {
		return ErrInvalidAddr
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	return nil
}

func ValidateStringNonEmpty(s string) error {
	if s == "" {
		return ErrEmptyString
	}
	return nil
}

func ValidateRangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}

// ValidateHostname checks a node/peer hostname as accepted by the CLI's
// HOST[:PORT] and --known-node flags: non-empty, resolvable as a DNS name
// or IP literal. It does not perform a lookup, only a syntactic check.
func ValidateHostname(host string) error {
	if host == "" {
		return ErrInvalidHostname
	}
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}
	if !hostnamePattern.MatchString(host) {
		return fmt.Errorf("%w: %q", ErrInvalidHostname, host)
	}
	return nil
}

var hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]*[a-zA-Z0-9])?$`)

// ValidatePort checks a TCP port string is a base-10 integer in [1, 65535].
func ValidatePort(port string) (int, error) {
	n, err := strconv.Atoi(port)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPort, err)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("%w: %d out of range", ErrInvalidPort, n)
	}
	return n, nil
}

// ValidateChunkIndexStorage checks that the client's chunk-index storage
// directory exists and is a directory; the client never creates it
// implicitly, matching the original's explicit configuration contract.
func ValidateChunkIndexStorage(dir string) error {
	if dir == "" {
		return ErrInvalidChunkIndexStorage
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChunkIndexStorage, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %q is not a directory", ErrInvalidChunkIndexStorage, dir)
	}
	return nil
}

// ValidateBackupID checks a backup identifier is exactly 64 lowercase hex
// characters, the textual form of a chunk's SHA-256 root handle.
func ValidateBackupID(id string) error {
	if !backupIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidBackupID, id)
	}
	return nil
}

// ParseExpiration parses an expiration timestamp in the external
// interface's %Y-%m-%dT%H:%M grammar (UTC, no timezone suffix) and
// rejects dates that are not strictly in the future.
func ParseExpiration(s string, now time.Time) (time.Time, error) {
	t, err := time.Parse(ExpirationLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidDateFormat, err)
	}
	t = t.UTC()
	if !t.After(now.UTC()) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrDateNotFarEnoughInFuture, s)
	}
	return t, nil
}

// ValidateExcludePattern checks a glob pattern used to exclude files from a
// backup is syntactically valid doublestar syntax.
func ValidateExcludePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty pattern", ErrExcludePattern)
	}
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("%w: %q", ErrExcludePattern, pattern)
	}
	return nil
}

// ValidateBackupRoot checks that a client backup root directory exists.
func ValidateBackupRoot(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNonExistingDirectory, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %q is not a directory", ErrNonExistingDirectory, dir)
	}
	return nil
}
