package workspace

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/blobstore"
	"github.com/runflow/orchestrator/internal/common/logger"
)

// defaultIgnoreNames are skipped during export regardless of dot-file policy.
var defaultIgnoreNames = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	".claude_data": true,
}

// ExportConfig controls what an Exporter skips and archives.
type ExportConfig struct {
	IgnoreNames map[string]bool
	IgnoreDot   bool
	Archive     bool
}

// ExportResult mirrors the second callback's workspace_* fields.
type ExportResult struct {
	WorkspaceFilesPrefix string
	WorkspaceManifestKey string
	WorkspaceArchiveKey  string
	Status               string // "ready" | "failed"
}

// Exporter uploads a session's host workspace directory to the blob store
// after a terminal callback.
type Exporter struct {
	store *blobstore.Store
	cfg   ExportConfig
	log   *logger.Logger
}

// NewExporter creates an Exporter. A nil cfg.IgnoreNames falls back to
// defaultIgnoreNames.
func NewExporter(store *blobstore.Store, cfg ExportConfig, log *logger.Logger) *Exporter {
	if cfg.IgnoreNames == nil {
		cfg.IgnoreNames = defaultIgnoreNames
	}
	return &Exporter{store: store, cfg: cfg, log: log.WithFields(zap.String("component", "workspace-export"))}
}

// Export walks workspaceDir, uploads every non-ignored file under
// sessions/<sessionID>/files/<relative_path>, then uploads the manifest and
// (optionally) a zip archive.
func (e *Exporter) Export(ctx context.Context, sessionID, workspaceDir string) ExportResult {
	filesPrefix := fmt.Sprintf("sessions/%s/files", sessionID)
	manifestKey := fmt.Sprintf("sessions/%s/manifest.json", sessionID)
	archiveKey := fmt.Sprintf("sessions/%s/archive.zip", sessionID)

	var manifest Manifest
	err := filepath.WalkDir(workspaceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if e.shouldSkip(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if e.shouldSkip(d.Name()) {
			return nil
		}

		rel, relErr := filepath.Rel(workspaceDir, path)
		if relErr != nil {
			return nil
		}
		normalized := NormalizeManifestPath(rel)
		if normalized == "" {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			e.log.Warn("skip unreadable export file", zap.String("path", path), zap.Error(readErr))
			return nil
		}
		sum := sha256.Sum256(data)
		key := filesPrefix + normalized
		if putErr := e.store.PutObject(ctx, key, bytes.NewReader(data), ""); putErr != nil {
			return fmt.Errorf("upload %s: %w", key, putErr)
		}
		manifest.Files = append(manifest.Files, ManifestFile{
			Path:   normalized,
			Key:    key,
			Size:   int64(len(data)),
			SHA256: hex.EncodeToString(sum[:]),
		})
		return nil
	})
	if err != nil {
		e.log.Error("workspace export walk failed", zap.String("session_id", sessionID), zap.Error(err))
		return ExportResult{Status: "failed"}
	}

	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		e.log.Error("marshal manifest failed", zap.String("session_id", sessionID), zap.Error(err))
		return ExportResult{Status: "failed"}
	}
	if err := e.store.PutObject(ctx, manifestKey, bytes.NewReader(manifestJSON), "application/json"); err != nil {
		e.log.Error("upload manifest failed", zap.String("session_id", sessionID), zap.Error(err))
		return ExportResult{Status: "failed"}
	}

	result := ExportResult{
		WorkspaceFilesPrefix: filesPrefix,
		WorkspaceManifestKey: manifestKey,
		Status:               "ready",
	}

	if e.cfg.Archive {
		archiveData, archErr := buildZip(workspaceDir, e.shouldSkip)
		if archErr != nil {
			e.log.Warn("build archive failed, export still ready", zap.String("session_id", sessionID), zap.Error(archErr))
			return result
		}
		if putErr := e.store.PutObject(ctx, archiveKey, bytes.NewReader(archiveData), "application/zip"); putErr != nil {
			e.log.Warn("upload archive failed, export still ready", zap.String("session_id", sessionID), zap.Error(putErr))
			return result
		}
		result.WorkspaceArchiveKey = archiveKey
	}

	return result
}

func (e *Exporter) shouldSkip(name string) bool {
	if e.cfg.IgnoreNames[name] {
		return true
	}
	if e.cfg.IgnoreDot && strings.HasPrefix(name, ".") {
		return true
	}
	return false
}

func buildZip(root string, shouldSkip func(string) bool) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if shouldSkip(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if shouldSkip(d.Name()) {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		f, createErr := zw.Create(filepath.ToSlash(rel))
		if createErr != nil {
			return createErr
		}
		src, openErr := os.Open(path)
		if openErr != nil {
			return openErr
		}
		defer func() { _ = src.Close() }()
		_, copyErr := io.Copy(f, src)
		return copyErr
	})
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
