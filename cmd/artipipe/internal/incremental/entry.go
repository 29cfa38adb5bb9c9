// Package incremental turns file snapshots into the raw change events the
// pipeline reconciles. Each stage keeps its own snapshot of the paths it
// reads, so a stage that did not run still sees every change since its last
// successful run.
package incremental

// Entry represents a single file's metadata and content hash.
type Entry struct {
	Path    string `json:"path"`     // absolute
	Hash    string `json:"hash"`     // xxHash64 hex
	ModTime int64  `json:"mtime_ns"` // UnixNano
	Size    int64  `json:"size"`
}
