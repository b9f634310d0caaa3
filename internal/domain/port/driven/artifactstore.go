package driven

// ArtifactStore reads and writes JSON artifacts below a root directory.
// Names are slash-separated paths relative to that root.
type ArtifactStore interface {
	// WriteJSON encodes v with two-space indentation and replaces the file atomically.
	WriteJSON(name string, v any) error
	// ReadJSON decodes the named file into v. It reports false when the file
	// does not exist.
	ReadJSON(name string, v any) (bool, error)
	// Root returns the directory artifacts are written under.
	Root() string
}
