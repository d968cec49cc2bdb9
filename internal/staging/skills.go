// Package staging materializes a run's skills, attachments, and slash
// commands onto the host workspace directory that becomes the executor
// container's bind-mounted /workspace, before the container is created.
package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/blobstore"
	"github.com/runflow/orchestrator/internal/common/logger"
	"github.com/runflow/orchestrator/internal/workspace"
)

// SkillStager downloads a session's enabled skills from the blob store into
// `<workspace>/.claude_data/skills`, the directory the executor's
// `~/.claude` symlink exposes to the agent.
type SkillStager struct {
	store *blobstore.Store
	paths *workspace.Paths
	log   *logger.Logger
}

func NewSkillStager(store *blobstore.Store, paths *workspace.Paths, log *logger.Logger) *SkillStager {
	return &SkillStager{store: store, paths: paths, log: log.WithFields(zap.String("component", "skill-stager"))}
}

// StageSkills stages skills (a name -> spec map, spec carrying at least
// `enabled` and either `entry.s3_key`/`entry.key` or `s3_key`/`key` at the
// top level) and returns the same shape back with staged entries annotated
// `local_path`, ready to hand to the executor. Staging is idempotent:
// directories for skills no longer present/enabled are removed first.
func (s *SkillStager) StageSkills(ctx context.Context, userID, sessionID string, skills map[string]any) (map[string]any, error) {
	skillsRoot, err := s.skillsRoot(userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve skills root: %w", err)
	}

	enabled := map[string]bool{}
	for name, raw := range skills {
		spec, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if !workspace.ValidName(name) {
			return nil, apperrors.New(apperrors.CodeBadRequest, fmt.Sprintf("invalid skill name: %s", name))
		}
		if enabledFlag, ok := spec["enabled"].(bool); ok && !enabledFlag {
			continue
		}
		enabled[name] = true
	}
	removed := cleanStagedDirs(skillsRoot, enabled)

	staged := make(map[string]any, len(skills))
	for name, raw := range skills {
		spec, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if !enabled[name] {
			staged[name] = map[string]any{"enabled": false}
			continue
		}

		entry, _ := spec["entry"].(map[string]any)
		if entry == nil {
			entry = spec
		}
		s3Key, _ := firstNonEmpty(entry["s3_key"], entry["key"]).(string)
		if s3Key == "" {
			continue
		}

		targetDir := filepath.Join(skillsRoot, name)
		if err := os.MkdirAll(targetDir, 0o755); err != nil {
			return nil, fmt.Errorf("create skill dir %s: %w", name, err)
		}

		if err := s.downloadSkill(ctx, s3Key, targetDir, isPrefix(entry, s3Key)); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeSkillDownloadFailed, fmt.Sprintf("stage skill %s", name), err)
		}

		out := map[string]any{}
		for k, v := range spec {
			out[k] = v
		}
		out["enabled"] = true
		out["local_path"] = targetDir
		out["entry"] = entry
		staged[name] = out
	}

	s.log.Info("skills staged",
		zap.String("session_id", sessionID),
		zap.Int("requested", len(skills)),
		zap.Int("staged", len(staged)),
		zap.Int("removed", removed))
	return staged, nil
}

func (s *SkillStager) skillsRoot(userID, sessionID string) (string, error) {
	claudeData, err := s.paths.ClaudeDataDir(userID, sessionID, true)
	if err != nil {
		return "", err
	}
	root := filepath.Join(claudeData, "skills")
	return root, os.MkdirAll(root, 0o755)
}

func (s *SkillStager) downloadSkill(ctx context.Context, s3Key, targetDir string, prefix bool) error {
	if prefix {
		return s.downloadPrefix(ctx, s3Key, targetDir)
	}
	body, err := s.store.GetObject(ctx, s3Key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	dest := filepath.Join(targetDir, filepath.Base(s3Key))
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = copyAll(f, body)
	return err
}

func (s *SkillStager) downloadPrefix(ctx context.Context, prefix, targetDir string) error {
	keys, err := s.store.ListPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		rel, relErr := filepath.Rel(prefix, key)
		if relErr != nil {
			continue
		}
		dest := filepath.Join(targetDir, rel)
		if !workspace.WithinRoot(targetDir, dest) {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		body, err := s.store.GetObject(ctx, key)
		if err != nil {
			return err
		}
		f, err := os.Create(dest)
		if err != nil {
			_ = body.Close()
			return err
		}
		_, copyErr := copyAll(f, body)
		_ = body.Close()
		_ = f.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

func isPrefix(entry map[string]any, s3Key string) bool {
	if v, ok := entry["is_prefix"].(bool); ok && v {
		return true
	}
	return len(s3Key) > 0 && s3Key[len(s3Key)-1] == '/'
}

func firstNonEmpty(values ...any) any {
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return nil
}

// cleanStagedDirs removes previously-staged directories whose name isn't in
// keep, returning the count removed. Entries escaping root are skipped.
func cleanStagedDirs(root string, keep map[string]bool) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || keep[entry.Name()] {
			continue
		}
		target := filepath.Join(root, entry.Name())
		if !workspace.WithinRoot(root, target) {
			continue
		}
		if os.RemoveAll(target) == nil {
			removed++
		}
	}
	return removed
}
