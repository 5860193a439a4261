// Package terminal implements the per-terminal coordinator: the exclusive,
// cross-process ownership of one terminal's on-disk state, including
// stale-lock reclamation and an advisory shared registry of active
// terminals.
//
// The directory-and-file-under-a-single-process-lock layout generalizes
// to a per-terminal tree plus a liveness check on the lock's recorded
// process id: sending signal 0 to a pid via golang.org/x/sys/unix is the
// portable way to ask "does this process still exist" without being able
// to affect it.
package terminal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/fenilsonani/poskernel/internal/wal"
)

// idPattern enforces "alphanumeric + underscore, <= 32 characters".
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

// ErrInvalidID is returned when a terminal id fails idPattern.
var ErrInvalidID = fmt.Errorf("terminal: id must be alphanumeric/underscore, 1-32 characters")

// ErrAlreadyInUse is returned when another live process already holds the
// terminal's lock.
var ErrAlreadyInUse = fmt.Errorf("terminal: already in use")

const (
	lockFileName     = "terminal.lock"
	walFileName      = "transaction.wal"
	terminalsSubdir  = "terminals"
	coordinationPath = "shared/coordination/active_terminals.json"
)

// Handle represents one process's ownership of a terminal's on-disk state:
// its lock file, its WAL, and the directory both live in. Close releases
// the lock.
type Handle struct {
	ID       string
	Dir      string
	WAL      *wal.FileWAL
	lockPath string
	dataRoot string
	log      *logrus.Entry
}

// Open acquires exclusive ownership of terminal id under dataRoot,
// reclaiming a stale lock left by a dead process if necessary, opens its
// WAL, and best-effort registers it in the shared coordination file.
func Open(dataRoot, id string, log *logrus.Entry) (*Handle, error) {
	if !idPattern.MatchString(id) {
		return nil, ErrInvalidID
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	dir := filepath.Join(dataRoot, terminalsSubdir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("terminal: create directory %s: %w", dir, err)
	}

	lockPath := filepath.Join(dir, lockFileName)
	if err := acquireLock(lockPath, id); err != nil {
		return nil, err
	}

	w, err := wal.Open(filepath.Join(dir, walFileName))
	if err != nil {
		_ = os.Remove(lockPath)
		return nil, fmt.Errorf("terminal: open wal: %w", err)
	}

	if err := registerActive(dataRoot, id); err != nil {
		log.WithError(err).Warn("terminal: failed to update active terminal registry")
	}

	return &Handle{
		ID:       id,
		Dir:      dir,
		WAL:      w,
		lockPath: lockPath,
		dataRoot: dataRoot,
		log:      log.WithField("terminal_id", id),
	}, nil
}

// Close releases the terminal's lock file and closes its WAL. It does not
// remove the terminal from the shared coordination file — that registry
// is a best-effort snapshot, not a liveness source of truth.
func (h *Handle) Close() error {
	if err := h.WAL.Close(); err != nil {
		return fmt.Errorf("terminal: close wal: %w", err)
	}
	if err := os.Remove(h.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("terminal: remove lock: %w", err)
	}
	h.log.Info("terminal: released")
	return nil
}

type lockContents struct {
	PID        int
	CreatedAt  time.Time
	TerminalID string
}

// acquireLock tries an exclusive create, and on EEXIST, probes the
// existing holder's liveness before deciding whether to reclaim or fail.
func acquireLock(path, id string) error {
	if err := writeLockExclusive(path, id); err == nil {
		return nil
	} else if !os.IsExist(err) {
		return fmt.Errorf("terminal: create lock %s: %w", path, err)
	}

	existing, err := readLock(path)
	if err != nil {
		// Unreadable/corrupt lock file: treat as stale and reclaim.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("terminal: remove unreadable lock %s: %w", path, err)
		}
	} else if processAlive(existing.PID) {
		return ErrAlreadyInUse
	} else {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("terminal: remove stale lock %s: %w", path, err)
		}
	}

	// Retry once now that the stale lock has been removed.
	if err := writeLockExclusive(path, id); err != nil {
		return fmt.Errorf("terminal: create lock %s after reclamation: %w", path, err)
	}
	return nil
}

func writeLockExclusive(path, id string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	content := fmt.Sprintf("%d\n%d\n%s\n", os.Getpid(), time.Now().UnixNano(), id)
	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("terminal: write lock %s: %w", path, err)
	}
	return f.Sync()
}

func readLock(path string) (lockContents, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lockContents{}, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		return lockContents{}, fmt.Errorf("terminal: malformed lock file %s", path)
	}
	pid, err := strconv.Atoi(lines[0])
	if err != nil {
		return lockContents{}, fmt.Errorf("terminal: bad pid in lock file %s: %w", path, err)
	}
	tsNano, err := strconv.ParseInt(lines[1], 10, 64)
	if err != nil {
		return lockContents{}, fmt.Errorf("terminal: bad timestamp in lock file %s: %w", path, err)
	}
	return lockContents{PID: pid, CreatedAt: time.Unix(0, tsNano), TerminalID: lines[2]}, nil
}

// processAlive sends signal 0 to pid: delivered-or-permission-denied means
// the process exists, ESRCH means it does not.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != unix.ESRCH
}

// activeTerminalsFile is the shape of the shared coordination registry.
type activeTerminalsFile struct {
	Terminals map[string]activeTerminalEntry `json:"terminals"`
}

type activeTerminalEntry struct {
	PID          int       `json:"pid"`
	RegisteredAt time.Time `json:"registered_at"`
}

var registryMu sync.Mutex

// registerActive best-effort-adds id to the shared coordination file.
// Failures here degrade to a caller-logged warning, never to an
// initialization failure.
func registerActive(dataRoot, id string) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	path := filepath.Join(dataRoot, coordinationPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("terminal: create coordination dir: %w", err)
	}

	reg := activeTerminalsFile{Terminals: map[string]activeTerminalEntry{}}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &reg)
		if reg.Terminals == nil {
			reg.Terminals = map[string]activeTerminalEntry{}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("terminal: read coordination file: %w", err)
	}

	reg.Terminals[id] = activeTerminalEntry{PID: os.Getpid(), RegisteredAt: time.Now()}

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("terminal: marshal coordination file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ListActiveTerminals reads the shared coordination registry and returns
// the terminal ids it lists, filtered to those whose recorded process is
// still alive. The registry is advisory, so this is a best-effort
// snapshot, not a correctness source.
func ListActiveTerminals(dataRoot string) ([]string, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	path := filepath.Join(dataRoot, coordinationPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("terminal: read coordination file: %w", err)
	}
	var reg activeTerminalsFile
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("terminal: parse coordination file: %w", err)
	}
	var ids []string
	for id, entry := range reg.Terminals {
		if processAlive(entry.PID) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
