package archive

import (
	"regexp"
	"strings"

	"github.com/npmcore/npmcore/internal/npmerr"
)

var windowsDriveLetter = regexp.MustCompile(`^[A-Za-z]:`)

// CheckSecurity validates one entry's paths against the §4.2 traversal
// rules, returning an ESECURITY error with severity=critical on failure.
func CheckSecurity(e TarEntry) error {
	if err := checkName(e.Name); err != nil {
		return err
	}
	switch e.Type {
	case TypeSymlink, TypeHardlink:
		if err := checkLinkEscape(e.Name, e.Linkname); err != nil {
			return err
		}
	}
	return nil
}

func checkName(name string) error {
	if strings.HasPrefix(name, "/") {
		return securityErr(name, "absolute path")
	}
	if windowsDriveLetter.MatchString(name) {
		return securityErr(name, "windows drive-letter path")
	}
	if containsSegment(name, "..") {
		return securityErr(name, "path traversal segment")
	}
	if strings.Contains(name, "/./") {
		return securityErr(name, "current-directory segment")
	}
	return nil
}

func containsSegment(path, seg string) bool {
	for _, p := range strings.Split(path, "/") {
		if p == seg {
			return true
		}
	}
	return false
}

// checkLinkEscape simulates walking from the link's containing directory,
// decrementing depth on each ".." in linkname; going negative means the
// target escapes the extraction root.
func checkLinkEscape(name, linkname string) error {
	segments := strings.Split(name, "/")
	depth := len(segments) - 1 // directory containing the link
	if depth < 0 {
		depth = 0
	}
	for _, part := range strings.Split(linkname, "/") {
		if part == ".." {
			depth--
			if depth < 0 {
				return securityErr(name, "link target escapes extraction root")
			}
		}
	}
	return nil
}

func securityErr(name, reason string) error {
	return npmerr.New(npmerr.ESecurity, "unsafe tar entry %q: %s", name, reason).
		With("path", name).
		With("severity", "critical")
}
