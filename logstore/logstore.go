// Package logstore keeps one append-only log file per check and rotates them
// into compressed archives that are written once and never touched again.
//
// Layout under the root directory:
//
//	<id>.log          active log, one JSON record per line
//	<archiveID>.gz.b64 gzip-compressed, base64-encoded archive
package logstore

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/amartya2002/uptime-monitor/internal/keylock"
)

const (
	activeExt  = ".log"
	archiveExt = ".gz.b64"
	tmpPrefix  = ".tmp-"
)

var (
	// ErrNotFound is returned when a log or archive does not exist.
	ErrNotFound = errors.New("log not found")
	// ErrInvalidID is returned for ids that are not safe file names.
	ErrInvalidID = errors.New("invalid log id")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// Rotation describes the result of rotating one log.
type Rotation struct {
	LogID     string
	ArchiveID string
	Bytes     int64
	// Skipped is set when the active log was empty and nothing was archived.
	Skipped bool
}

// Store is a directory of per-id logs. Operations on the same id are
// serialized; different ids never contend.
type Store struct {
	dir   string
	locks *keylock.Locker
	now   func() time.Time

	// writeTemp fills the staged archive and syncDir makes its link durable;
	// both are replaced in tests to simulate failures.
	writeTemp func(f *os.File, data []byte) error
	syncDir   func(dir string) error
}

// New creates dir if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	return &Store{
		dir:       dir,
		locks:     keylock.New(),
		now:       time.Now,
		writeTemp: writeAndSync,
		syncDir:   syncDir,
	}, nil
}

func (s *Store) activePath(id string) string  { return filepath.Join(s.dir, id+activeExt) }
func (s *Store) archivePath(id string) string { return filepath.Join(s.dir, id+archiveExt) }

// Append writes one newline-terminated record to the log for id, creating it
// if needed.
func (s *Store) Append(id string, record []byte) error {
	if err := checkID(id); err != nil {
		return err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	f, err := os.OpenFile(s.activePath(id), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open log %s for append: %w", id, err)
	}
	line := make([]byte, 0, len(record)+1)
	line = append(append(line, record...), '\n')
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append to log %s: %w", id, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close log %s: %w", id, err)
	}
	return nil
}

// Read returns the full content of the active log.
func (s *Store) Read(id string) ([]byte, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.read(id)
}

func (s *Store) read(id string) ([]byte, error) {
	data, err := os.ReadFile(s.activePath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("log %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read log %s: %w", id, err)
	}
	return data, nil
}

// List returns the ids of active logs, followed by archive ids when
// includeArchives is set.
func (s *Store) List(includeArchives bool) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list log dir %s: %w", s.dir, err)
	}
	var active, archived []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tmpPrefix) {
			continue
		}
		switch {
		case strings.HasSuffix(name, activeExt):
			active = append(active, strings.TrimSuffix(name, activeExt))
		case includeArchives && strings.HasSuffix(name, archiveExt):
			archived = append(archived, strings.TrimSuffix(name, archiveExt))
		}
	}
	return append(active, archived...), nil
}

// Archives returns the archive ids produced from the log id.
func (s *Store) Archives(id string) ([]string, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	all, err := s.List(true)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range all {
		if logID, _, ok := ParseArchiveID(name); ok && logID == id {
			out = append(out, name)
		}
	}
	return out, nil
}

// Compress writes the current content of log id, gzip-compressed and base64
// encoded, under archiveID. The archive is created exclusively: an existing
// archive with that id is never overwritten.
func (s *Store) Compress(id, archiveID string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := checkID(archiveID); err != nil {
		return err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	content, err := s.read(id)
	if err != nil {
		return err
	}
	return s.writeArchive(archiveID, content)
}

// Decompress returns the exact bytes that were archived under archiveID.
func (s *Store) Decompress(archiveID string) ([]byte, error) {
	if err := checkID(archiveID); err != nil {
		return nil, err
	}
	encoded, err := os.ReadFile(s.archivePath(archiveID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("archive %s: %w", archiveID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", archiveID, err)
	}
	return decode(encoded)
}

// Truncate empties the active log for id.
func (s *Store) Truncate(id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.truncate(id)
}

func (s *Store) truncate(id string) error {
	err := os.Truncate(s.activePath(id), 0)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("log %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("truncate log %s: %w", id, err)
	}
	return nil
}

// Rotate archives the active log for id and then empties it. The log is only
// truncated once the archive is durably written; on any failure the active log
// is left exactly as it was. Empty logs are skipped.
func (s *Store) Rotate(id string) (Rotation, error) {
	if err := checkID(id); err != nil {
		return Rotation{}, err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	rot := Rotation{LogID: id}
	content, err := s.read(id)
	if err != nil {
		return rot, err
	}
	if len(content) == 0 {
		rot.Skipped = true
		return rot, nil
	}

	archiveID := NewArchiveID(id, s.now())
	if err := s.writeArchive(archiveID, content); err != nil {
		return rot, err
	}
	if err := s.truncate(id); err != nil {
		return rot, fmt.Errorf("archived %s as %s but %w", id, archiveID, err)
	}
	rot.ArchiveID = archiveID
	rot.Bytes = int64(len(content))
	return rot, nil
}

// Remove deletes the active log for id. Archives are kept.
func (s *Store) Remove(id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	err := os.Remove(s.activePath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("log %s: %w", id, fs.ErrNotExist)
	}
	if err != nil {
		return fmt.Errorf("remove log %s: %w", id, err)
	}
	return nil
}

func (s *Store) writeArchive(archiveID string, content []byte) error {
	encoded, err := encode(content)
	if err != nil {
		return fmt.Errorf("compress archive %s: %w", archiveID, err)
	}

	f, err := os.CreateTemp(s.dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("stage archive %s: %w", archiveID, err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := s.writeTemp(f, encoded); err != nil {
		f.Close()
		return fmt.Errorf("write archive %s: %w", archiveID, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close archive %s: %w", archiveID, err)
	}
	if err := os.Link(tmp, s.archivePath(archiveID)); err != nil {
		return fmt.Errorf("commit archive %s: %w", archiveID, err)
	}
	// The link has to be on disk before the active log is truncated.
	if err := s.syncDir(s.dir); err != nil {
		return fmt.Errorf("commit archive %s: %w", archiveID, err)
	}
	return nil
}

// NewArchiveID returns a fresh archive id for log id: the log id, the epoch
// millisecond time and a random UUID, so archive names are never reused.
func NewArchiveID(id string, at time.Time) string {
	return fmt.Sprintf("%s-%d-%s", id, at.UnixMilli(), uuid.NewString())
}

// ParseArchiveID splits an archive id produced by NewArchiveID.
func ParseArchiveID(archiveID string) (logID string, at time.Time, ok bool) {
	const uuidLen = 36
	if len(archiveID) < uuidLen+4 {
		return "", time.Time{}, false
	}
	suffix := archiveID[len(archiveID)-uuidLen:]
	if _, err := uuid.Parse(suffix); err != nil || archiveID[len(archiveID)-uuidLen-1] != '-' {
		return "", time.Time{}, false
	}
	rest := archiveID[:len(archiveID)-uuidLen-1]
	dash := strings.LastIndexByte(rest, '-')
	if dash <= 0 {
		return "", time.Time{}, false
	}
	ms, err := strconv.ParseInt(rest[dash+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return rest[:dash], time.UnixMilli(ms), true
}

func encode(content []byte) ([]byte, error) {
	var zipped bytes.Buffer
	zw := gzip.NewWriter(&zipped)
	if _, err := zw.Write(content); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(zipped.Len()))
	base64.StdEncoding.Encode(out, zipped.Bytes())
	return out, nil
}

func decode(encoded []byte) ([]byte, error) {
	zipped := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
	n, err := base64.StdEncoding.Decode(zipped, bytes.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(zipped[:n]))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress archive: %w", err)
	}
	return out, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir %s: %w", dir, err)
	}
	defer d.Close()
	// Some filesystems refuse fsync on directories.
	_ = d.Sync()
	return nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

func checkID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
