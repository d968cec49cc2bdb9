package workspace

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ManifestFile is one entry of a workspace manifest's `files` array.
type ManifestFile struct {
	Path     string `json:"path"`
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
}

// Manifest is the JSON document uploaded as `sessions/<id>/manifest.json`.
type Manifest struct {
	Files []ManifestFile `json:"files"`
}

// RawManifest decodes a stored manifest.json in either shape the UI's file
// browser accepts: `{files:[]}`, which still needs BuildTree, or an
// already-rendered `{nodes:[]}`, which a caller uses as-is.
type RawManifest struct {
	Files []ManifestFile `json:"files,omitempty"`
	Nodes []FileNode     `json:"nodes,omitempty"`
}

// ResolveTree returns raw's file tree: Nodes verbatim if the manifest was
// already tree-shaped, otherwise a tree built from Files.
func ResolveTree(raw RawManifest) []FileNode {
	if raw.Nodes != nil {
		return raw.Nodes
	}
	return BuildTree(raw.Files)
}

// FileNode is one node of the tree served to the UI's file browser.
type FileNode struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Type     string     `json:"type"` // "file" | "folder"
	Path     string     `json:"path"`
	MimeType string     `json:"mimeType,omitempty"`
	URL      string     `json:"url,omitempty"`
	Children []FileNode `json:"children,omitempty"`
}

// folder is an intermediate node while assembling a tree from flat paths.
type folder struct {
	path     string
	children map[string]*folder
	order    []string
	isFile   *FileNode
}

// BuildTree assembles a sorted (folders-first, name-lower) file tree from a
// flat manifest file list, mirroring the UI's `{nodes:[]}` tree shape.
func BuildTree(files []ManifestFile) []FileNode {
	root := &folder{children: map[string]*folder{}}

	for _, f := range files {
		normalized := NormalizeManifestPath(f.Path)
		if normalized == "" {
			continue
		}
		parts := strings.Split(strings.Trim(normalized, "/"), "/")

		cur := root
		pathSoFar := ""
		for i, part := range parts {
			if part == "" {
				continue
			}
			pathSoFar += "/" + part
			last := i == len(parts)-1
			child, ok := cur.children[part]
			if !ok {
				child = &folder{path: pathSoFar, children: map[string]*folder{}}
				cur.children[part] = child
				cur.order = append(cur.order, part)
			}
			if last {
				child.isFile = &FileNode{ID: pathSoFar, Name: part, Type: "file", Path: pathSoFar, MimeType: f.MimeType}
			}
			cur = child
		}
	}

	return foldersToNodes(root)
}

func foldersToNodes(root *folder) []FileNode {
	names := append([]string(nil), root.order...)
	sort.Slice(names, func(i, j int) bool {
		ci, cj := root.children[names[i]], root.children[names[j]]
		iFolder, jFolder := ci.isFile == nil, cj.isFile == nil
		if iFolder != jFolder {
			return iFolder
		}
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})

	nodes := make([]FileNode, 0, len(names))
	for _, name := range names {
		child := root.children[name]
		if child.isFile != nil {
			nodes = append(nodes, *child.isFile)
			continue
		}
		nodes = append(nodes, FileNode{
			ID:       child.path,
			Name:     name,
			Type:     "folder",
			Path:     child.path,
			Children: foldersToNodes(child),
		})
	}
	return nodes
}

// WalkWorkspaceFiles lists a live (not-yet-exported) workspace directory as
// ManifestFile entries in the same shape Export produces, so BuildTree can
// render a file tree for a session before it has ever been exported.
func WalkWorkspaceFiles(dir string) ([]ManifestFile, error) {
	var files []ManifestFile
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return nil
		}
		normalized := NormalizeManifestPath(rel)
		if normalized == "" {
			return nil
		}
		info, infoErr := d.Info()
		var size int64
		if infoErr == nil {
			size = info.Size()
		}
		files = append(files, ManifestFile{Path: normalized, Size: size})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// FindFile locates a manifest entry by its normalized path.
func FindFile(files []ManifestFile, path string) (ManifestFile, bool) {
	normalized := NormalizeManifestPath(path)
	if normalized == "" {
		return ManifestFile{}, false
	}
	for _, f := range files {
		if NormalizeManifestPath(f.Path) == normalized {
			return f, true
		}
	}
	return ManifestFile{}, false
}
