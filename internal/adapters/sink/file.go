package sink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/ports"
)

const (
	dayLayout      = "2006-01-02"
	filePrefix     = "audit-events-"
	fileExt        = ".jsonl"
	maxRecordBytes = 4 << 20
)

// File appends newline-delimited records to one file per UTC calendar day,
// named audit-events-<YYYY-MM-DD>.jsonl.
type File struct {
	dir    string
	codec  ports.EventCodec
	logger *zap.Logger

	mu sync.Mutex
}

func NewFile(dir string, codec ports.EventCodec, logger *zap.Logger) (*File, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &File{dir: dir, codec: codec, logger: logger.With(zap.String("mod", "file_sink"))}, nil
}

func DayFileName(day time.Time) string {
	return filePrefix + day.UTC().Format(dayLayout) + fileExt
}

func (f *File) WriteBatch(_ context.Context, events []domain.AuditEvent) error {
	encoded, encErr := ports.EncodeBatch(f.codec.Encode, events)
	byDay := make(map[string][]byte)
	var days []string
	for _, enc := range encoded {
		name := DayFileName(enc.Event.CreatedAt)
		if _, seen := byDay[name]; !seen {
			days = append(days, name)
		}
		byDay[name] = append(append(byDay[name], enc.Record...), '\n')
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range days {
		if err := f.appendFile(filepath.Join(f.dir, name), byDay[name]); err != nil {
			return err
		}
	}
	return encErr
}

func (f *File) appendFile(path string, data []byte) error {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	if _, err := fh.Write(data); err != nil {
		_ = fh.Close()
		return fmt.Errorf("append %s: %w", filepath.Base(path), err)
	}
	return fh.Close()
}

// ReadSince decodes every day file from since's day onward. Lines that fail
// to decode are logged and skipped.
func (f *File) ReadSince(ctx context.Context, since time.Time) ([]domain.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(f.dir, filePrefix+"*"+fileExt))
	if err != nil {
		return nil, err
	}
	slices.Sort(matches)
	firstDay := since.UTC().Format(dayLayout)

	var out []domain.AuditEvent
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		day := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), filePrefix), fileExt)
		if day < firstDay {
			continue
		}
		events, err := f.readFile(path)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			if !e.CreatedAt.Before(since) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (f *File) readFile(path string) ([]domain.AuditEvent, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 64*1024), maxRecordBytes)
	var out []domain.AuditEvent
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		e, err := f.codec.Decode(raw)
		if err != nil {
			f.logger.Warn("skipping unreadable audit record",
				zap.String("file", filepath.Base(path)), zap.Int("line", line), zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

func (f *File) Close() error {
	return nil
}
