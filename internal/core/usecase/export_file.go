package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
)

const exportSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["exported_at", "total_events", "events"],
  "properties": {
    "exported_at": {"type": "string"},
    "total_events": {"type": "integer", "minimum": 0},
    "events": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type", "severity", "context", "created_at"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string"},
          "severity": {"enum": ["LOW", "MEDIUM", "HIGH", "CRITICAL"]},
          "message": {"type": "string"},
          "context": {
            "type": "object",
            "required": ["correlation_id", "source"],
            "properties": {
              "correlation_id": {"type": "string"},
              "source": {"type": "string"}
            }
          },
          "created_at": {"type": "string"}
        }
      }
    }
  }
}`

type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatYAML ExportFormat = "yaml"
)

func ParseExportFormat(raw string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown export format %q", raw)
}

func formatFromPath(path string) ExportFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

func EncodeExport(w io.Writer, export domain.AuditExport, format ExportFormat) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(export); err != nil {
			return fmt.Errorf("encode yaml export: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(export); err != nil {
			return fmt.Errorf("encode json export: %w", err)
		}
		return nil
	}
}

// ExportToFile writes a snapshot of every event to name, or to an
// auto-named file in the export directory when name is empty. It returns the
// path written. The write goes through a temp file and rename.
func (s *EventStore) ExportToFile(name string) (string, error) {
	if name == "" {
		name = "audit-export-" + s.clock().UTC().Format("2006-01-02T15-04-05.000Z") + ".json"
	}
	path := name
	if !filepath.IsAbs(path) && filepath.Dir(path) == "." && s.cfg.ExportDir != "" {
		path = filepath.Join(s.cfg.ExportDir, name)
	}

	events := s.AllEvents()
	export := domain.AuditExport{
		ExportedAt:  s.clock(),
		TotalEvents: len(events),
		Events:      events,
	}

	var buf bytes.Buffer
	if err := EncodeExport(&buf, export, formatFromPath(path)); err != nil {
		return "", err
	}
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return "", err
	}
	return path, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure export directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "tmp-export-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename export file: %w", err)
	}
	return nil
}

var (
	exportSchemaOnce sync.Once
	exportSchema     *santhosh.Schema
	exportSchemaErr  error
)

func compiledExportSchema() (*santhosh.Schema, error) {
	exportSchemaOnce.Do(func() {
		compiler := santhosh.NewCompiler()
		compiler.Draft = santhosh.Draft7
		if err := compiler.AddResource("export.json", strings.NewReader(exportSchemaJSON)); err != nil {
			exportSchemaErr = err
			return
		}
		exportSchema, exportSchemaErr = compiler.Compile("export.json")
	})
	return exportSchema, exportSchemaErr
}

// LoadExport reads an export document back, validating it against the export
// schema and checking that total_events matches the event list.
func LoadExport(path string) (domain.AuditExport, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.AuditExport{}, fmt.Errorf("read export: %w", err)
	}
	if formatFromPath(path) == FormatYAML {
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return domain.AuditExport{}, fmt.Errorf("decode yaml export: %w", err)
		}
		if raw, err = json.Marshal(doc); err != nil {
			return domain.AuditExport{}, fmt.Errorf("convert yaml export: %w", err)
		}
	}
	return DecodeExport(raw)
}

func DecodeExport(raw []byte) (domain.AuditExport, error) {
	schema, err := compiledExportSchema()
	if err != nil {
		return domain.AuditExport{}, fmt.Errorf("compile export schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.AuditExport{}, fmt.Errorf("decode export: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return domain.AuditExport{}, &domain.ErrExportViolation{Errors: collectValidationErrors(ve)}
		}
		return domain.AuditExport{}, &domain.ErrExportViolation{Errors: []string{err.Error()}}
	}

	var export domain.AuditExport
	if err := json.Unmarshal(raw, &export); err != nil {
		return domain.AuditExport{}, fmt.Errorf("decode export: %w", err)
	}
	if export.TotalEvents != len(export.Events) {
		return domain.AuditExport{}, &domain.ErrExportViolation{Errors: []string{
			fmt.Sprintf("total_events is %d but %d events are present", export.TotalEvents, len(export.Events)),
		}}
	}
	return export, nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, ve.Error())
	}
	return msgs
}
