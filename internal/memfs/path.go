package memfs

import (
	"path"
	"strings"
)

// RootPath is the key of the root directory in the store.
const RootPath = "/"

// CleanPath canonicalizes p into the store's key form: rooted at "/",
// no trailing slash, no "." or ".." segments.
func CleanPath(p string) string {
	if p == "" {
		return RootPath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// ParentPath returns the substring of p before its last slash, or the root
// when p has no slash or its only slash is the first character.
func ParentPath(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return RootPath
	}
	return p[:i]
}

// LeafName returns the final segment of p. A single trailing slash is
// stripped first, so "/a/b" and "/a/b/" both yield "b".
func LeafName(p string) string {
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return p
	}
	return p[i+1:]
}

// ChildPath joins a canonical directory path and a child name.
func ChildPath(dir, name string) string {
	if dir == RootPath {
		return RootPath + name
	}
	return dir + "/" + name
}

// ancestors lists the directories that must be traversed to reach p,
// root first, excluding p itself.
func ancestors(p string) []string {
	if p == RootPath {
		return nil
	}
	dirs := []string{RootPath}
	for i := 1; i < len(p); i++ {
		if p[i] == '/' {
			dirs = append(dirs, p[:i])
		}
	}
	return dirs
}

// isWithin reports whether p equals dir or lies beneath it.
func isWithin(p, dir string) bool {
	if p == dir {
		return true
	}
	if dir == RootPath {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}
