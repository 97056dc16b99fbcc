package batch

import (
	"path/filepath"
	"strings"

	"trackq/internal/classify"
	"trackq/internal/runstore"
)

// archiveLog copies the tracker log into logsDir before the next invocation
// can overwrite the shared copy in the working directory. The session's own
// log is preferred; an unresolved job archives the shared log under its
// settings stem.
func archiveLog(c classify.Classifier, sessionDir, workDir, logsDir, stem string) (string, error) {
	src := ""
	name := ""
	if sessionDir != "" {
		name = filepath.Base(sessionDir) + ".log"
		if c.HasLog(sessionDir) {
			src = c.LogPath(sessionDir)
		}
	} else {
		name = "unresolved_" + stem + ".log"
	}
	if src == "" {
		shared := filepath.Join(workDir, c.LogFileName())
		if !runstore.FileExists(shared) {
			return "", nil
		}
		src = shared
	}
	if strings.TrimSpace(logsDir) == "" {
		return "", nil
	}
	dst := filepath.Join(logsDir, name)
	if _, err := runstore.CopyFile(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}
