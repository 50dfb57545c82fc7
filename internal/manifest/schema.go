package manifest

// nodeBlock represents a `node` block from a user's manifest file. The block
// label is the node's symbolic key; `parent` references another block's key
// while `parent_ref` attaches the node under a resource that already exists
// on the remote store.
type nodeBlock struct {
	Key       string            `hcl:"key,label"`
	Name      string            `hcl:"name,optional"`
	Parent    string            `hcl:"parent,optional"`
	ParentRef string            `hcl:"parent_ref,optional"`
	Fields    map[string]string `hcl:"fields,optional"`
}

// manifestFile represents the top-level structure of one manifest file.
type manifestFile struct {
	Nodes []*nodeBlock `hcl:"node,block"`
}
