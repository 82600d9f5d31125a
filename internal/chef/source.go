package chef

import (
	"context"
	"os"

	"go.uber.org/zap"
)

// FirstBootJSON is where chef-client bootstrap leaves the node's first run list.
const FirstBootJSON = "/etc/chef/first-boot.json"

// FileSystem is the file access the source needs.
type FileSystem interface {
	PathExists(path string) bool
	ReadFile(path string) ([]byte, error)
}

// OSFileSystem reads from the local disk.
type OSFileSystem struct{}

func (OSFileSystem) PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (OSFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Snapshot is one read of the first-boot file.
type Snapshot struct {
	Path    string
	Content []byte // nil when the file was missing or unreadable
	RunList RunList
}

// Source loads run lists from a first-boot file.
type Source struct {
	Path   string
	FS     FileSystem
	Parser *Parser

	logger *zap.Logger
}

// NewSource returns a source reading path from the local disk.
// An empty path means FirstBootJSON.
func NewSource(path string, strict bool, logger *zap.Logger) *Source {
	if path == "" {
		path = FirstBootJSON
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := NewParser(logger)
	parser.Strict = strict
	return &Source{
		Path:   path,
		FS:     OSFileSystem{},
		Parser: parser,
		logger: logger,
	}
}

// Load reads and parses the first-boot file. A missing or unreadable file is
// not an error; it yields an empty run list.
func (s *Source) Load(ctx context.Context) (RunList, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return RunList{}, err
	}
	return snap.RunList, nil
}

// Snapshot is like Load but also returns the raw content that was parsed.
// The only error it returns is a cancelled context.
func (s *Source) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Path: s.Path}
	if err := ctx.Err(); err != nil {
		return snap, err
	}

	if !s.FS.PathExists(s.Path) {
		return snap, nil
	}

	content, err := s.FS.ReadFile(s.Path)
	if err != nil {
		s.logger.Debug("could not read first-boot file", zap.String("path", s.Path), zap.Error(err))
		return snap, nil
	}

	snap.Content = content
	snap.RunList = s.Parser.ParseBytes(content)
	return snap, nil
}
