package wsgateway

import (
	"context"
	"encoding/json"
	"io"

	"github.com/runflow/orchestrator/internal/backend/repository"
	"github.com/runflow/orchestrator/internal/blobstore"
	"github.com/runflow/orchestrator/internal/workspace"
)

// Deps are the read dependencies the gateway needs beyond fan-out: loading
// the session a connection claims ownership of, its pending user input
// requests, and its exported workspace manifest.
type Deps struct {
	Repo  *repository.Repository
	Store *blobstore.Store
}

// fetchWorkspaceTree downloads and decodes a session's exported
// manifest.json, resolving whichever shape it was written in.
func fetchWorkspaceTree(ctx context.Context, store *blobstore.Store, manifestKey string) ([]workspace.FileNode, error) {
	body, err := store.GetObject(ctx, manifestKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	var raw workspace.RawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return workspace.ResolveTree(raw), nil
}
