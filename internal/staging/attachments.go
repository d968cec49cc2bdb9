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

// AttachmentInput is one entry of a run's input_files list, referencing an
// object under the `attachments/<user_id>/<session_id>/<attachment_id>/`
// blob-store prefix.
type AttachmentInput struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Key  string `json:"s3_key"`
}

// AttachmentStager downloads a run's input attachments into the session's
// workspace root so the agent sees them as ordinary files.
type AttachmentStager struct {
	store *blobstore.Store
	paths *workspace.Paths
	log   *logger.Logger
}

func NewAttachmentStager(store *blobstore.Store, paths *workspace.Paths, log *logger.Logger) *AttachmentStager {
	return &AttachmentStager{store: store, paths: paths, log: log.WithFields(zap.String("component", "attachment-stager"))}
}

// StageInputs downloads each input into `<workspace>/<name>` and returns
// the staged local paths in the same order as inputs.
func (s *AttachmentStager) StageInputs(ctx context.Context, userID, sessionID string, inputs []AttachmentInput) ([]map[string]any, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	workspaceDir, err := s.paths.WorkspaceDir(userID, sessionID, true)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace dir: %w", err)
	}

	staged := make([]map[string]any, 0, len(inputs))
	for _, in := range inputs {
		name := filepath.Base(in.Name)
		if name == "" || name == "." || name == string(filepath.Separator) {
			continue
		}
		target := filepath.Join(workspaceDir, name)
		if !workspace.WithinRoot(workspaceDir, target) {
			return nil, apperrors.New(apperrors.CodeBadRequest, fmt.Sprintf("invalid attachment path: %s", in.Name))
		}

		body, err := s.store.GetObject(ctx, in.Key)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeExternalServiceError, fmt.Sprintf("download attachment %s", in.ID), err)
		}
		f, err := os.Create(target)
		if err != nil {
			_ = body.Close()
			return nil, fmt.Errorf("create attachment file %s: %w", target, err)
		}
		_, copyErr := copyAll(f, body)
		_ = body.Close()
		_ = f.Close()
		if copyErr != nil {
			return nil, fmt.Errorf("write attachment file %s: %w", target, copyErr)
		}

		staged = append(staged, map[string]any{
			"id":         in.ID,
			"name":       in.Name,
			"local_path": target,
		})
	}

	s.log.Info("attachments staged", zap.String("session_id", sessionID), zap.Int("staged", len(staged)))
	return staged, nil
}
