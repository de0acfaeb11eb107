package writer

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// ExpandTemplate expands %i (the zero-padded sequence number) and the
// strftime date/time tokens %Y %m %d %H %M %S, plus %t (Unix epoch
// seconds), in template against seq and t.
func ExpandTemplate(template string, seq int, t time.Time) string {
	expanded := strings.ReplaceAll(template, "%i", fmt.Sprintf("%04d", seq))
	expanded = strings.ReplaceAll(expanded, "%t", strconv.FormatInt(t.Unix(), 10))
	return strftime.Format(expanded, t)
}

// ResolveCollision returns a path guaranteed not to already exist,
// starting from candidate. It tries, in order: the candidate itself;
// "<name>-NNN<ext>" for NNN = seq formatted as a zero-padded 3-digit
// sequence; "<name>-dupNNNN<ext>" for NNNN from 0 to 9999; and finally
// a nanosecond-suffixed name, which is exhausted only if all of the
// above somehow collide.
func ResolveCollision(candidate string, seq int, exists func(string) bool) string {
	if !exists(candidate) {
		return candidate
	}

	dir, base, ext := splitPath(candidate)
	seqName := fmt.Sprintf("%s/%s-%03d%s", dir, base, seq, ext)
	if !exists(seqName) {
		return seqName
	}

	for n := 0; n <= 9999; n++ {
		dupName := fmt.Sprintf("%s/%s-dup%04d%s", dir, base, n, ext)
		if !exists(dupName) {
			return dupName
		}
	}

	return fmt.Sprintf("%s/%s-%d%s", dir, base, time.Now().UnixNano(), ext)
}

func splitPath(path string) (dir, base, ext string) {
	dir = "."
	rest := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		dir = path[:idx]
		rest = path[idx+1:]
	}
	if idx := strings.LastIndexByte(rest, '.'); idx > 0 {
		return dir, rest[:idx], rest[idx:]
	}
	return dir, rest, ""
}

// pathExists is the default existence check used when a Sandbox isn't
// in play.
func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
