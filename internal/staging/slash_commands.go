package staging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/common/logger"
	"github.com/runflow/orchestrator/internal/workspace"
)

// SlashCommandStager writes a user's resolved slash commands as markdown
// files into `<workspace>/.claude_data/commands`.
type SlashCommandStager struct {
	paths *workspace.Paths
	log   *logger.Logger
}

func NewSlashCommandStager(paths *workspace.Paths, log *logger.Logger) *SlashCommandStager {
	return &SlashCommandStager{paths: paths, log: log.WithFields(zap.String("component", "slash-command-stager"))}
}

// StageCommands writes commands (name -> markdown body) and returns a map
// of name -> staged local file path. Staging is idempotent: markdown files
// for commands no longer present are removed first.
func (s *SlashCommandStager) StageCommands(userID, sessionID string, commands map[string]string) (map[string]string, error) {
	if len(commands) == 0 {
		return map[string]string{}, nil
	}

	claudeData, err := s.paths.ClaudeDataDir(userID, sessionID, true)
	if err != nil {
		return nil, fmt.Errorf("resolve claude data dir: %w", err)
	}
	commandsRoot := filepath.Join(claudeData, "commands")
	if err := os.MkdirAll(commandsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create commands dir: %w", err)
	}

	removed := cleanStagedFiles(commandsRoot, ".md")

	staged := make(map[string]string, len(commands))
	for name, markdown := range commands {
		if !workspace.ValidName(name) {
			return nil, apperrors.New(apperrors.CodeBadRequest, fmt.Sprintf("invalid slash command name: %s", name))
		}
		target := filepath.Join(commandsRoot, name+".md")
		if !workspace.WithinRoot(commandsRoot, target) {
			return nil, apperrors.New(apperrors.CodeBadRequest, fmt.Sprintf("invalid slash command path: %s", name))
		}
		if err := os.WriteFile(target, []byte(markdown), 0o644); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeExternalServiceError, fmt.Sprintf("stage slash command %s", name), err)
		}
		staged[name] = target
	}

	s.log.Info("slash commands staged",
		zap.String("session_id", sessionID),
		zap.Int("requested", len(commands)),
		zap.Int("staged", len(staged)),
		zap.Int("removed", removed))
	return staged, nil
}

func cleanStagedFiles(root, suffix string) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) != suffix {
			continue
		}
		if os.Remove(filepath.Join(root, entry.Name())) == nil {
			removed++
		}
	}
	return removed
}
