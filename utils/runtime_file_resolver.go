package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RuntimeFileResolver finds templates relative to a colon separated
// search path, then the working directory and the executable's
// directory.
type RuntimeFileResolver struct {
	SearchDirs []string
}

func NewRuntimeFileResolver(searchPath string) *RuntimeFileResolver {
	resolver := &RuntimeFileResolver{}
	for _, dir := range strings.Split(searchPath, ":") {
		if dir = strings.TrimSpace(dir); len(dir) > 0 {
			resolver.SearchDirs = append(resolver.SearchDirs, dir)
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		resolver.SearchDirs = append(resolver.SearchDirs, cwd)
	}
	resolver.SearchDirs = append(resolver.SearchDirs, filepath.Dir(os.Args[0]))
	return resolver
}

// Resolve returns the first existing path for filePath. Absolute paths
// are only checked for existence.
func (r *RuntimeFileResolver) Resolve(filePath string) (string, error) {
	if filepath.IsAbs(filePath) {
		_, err := os.Stat(filePath)
		return filePath, err
	}
	for _, dir := range r.SearchDirs {
		p := filepath.Join(dir, filePath)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return filePath, fmt.Errorf("failed to resolve %v in %v", filePath, r.SearchDirs)
}
