// Package manifest loads node forests from declarative HCL files. A manifest
// path may point at a single .hcl file or at a directory, which is searched
// recursively.
package manifest

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/treepost/internal/ctxlog"
	"github.com/vk/treepost/internal/fsutil"
	"github.com/vk/treepost/internal/hierarchy"
)

// Load reads every manifest file under path and returns the declared nodes
// in file order. Parse and decode failures are fatal; semantic validation
// (duplicate keys, cycles) is the scheduler's job, not the loader's.
func Load(ctx context.Context, path string) ([]hierarchy.Node, error) {
	logger := ctxlog.FromContext(ctx)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest path: %w", err)
	}

	paths := []string{path}
	if info.IsDir() {
		paths, err = fsutil.FindFilesByExtension(path, ".hcl")
		if err != nil {
			return nil, fmt.Errorf("searching manifest directory: %w", err)
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("no .hcl manifest files found under %s", path)
		}
	}

	parser := hclparse.NewParser()
	var nodes []hierarchy.Node
	for _, p := range paths {
		file, diags := parser.ParseHCLFile(p)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parsing manifest %s: %w", p, diags)
		}

		var mf manifestFile
		if diags := gohcl.DecodeBody(file.Body, nil, &mf); diags.HasErrors() {
			return nil, fmt.Errorf("decoding manifest %s: %w", p, diags)
		}

		for _, b := range mf.Nodes {
			nodes = append(nodes, hierarchy.Node{
				Key:       b.Key,
				Name:      b.Name,
				ParentKey: b.Parent,
				ParentRef: b.ParentRef,
				Fields:    b.Fields,
			})
		}
		logger.Debug("Manifest file loaded.", "path", p, "nodes", len(mf.Nodes))
	}

	logger.Debug("Manifest loading complete.", "files", len(paths), "total_nodes", len(nodes))
	return nodes, nil
}
