package analyzer

import (
	"regexp"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// SecretPatterns are checked in order against a file's patch; the first
// match short-circuits MatchesSecret. Exported so the test suite can
// golden-test individual patterns independently of Analyze.
var SecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`ghp_[0-9A-Za-z]{36}`),
	regexp.MustCompile(`xox[baprs]-[0-9A-Za-z-]{20,}`),
	regexp.MustCompile(`secret_key\s*=`),
	regexp.MustCompile(`api_key\s*=`),
	regexp.MustCompile(`password\s*=`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH |DSA |)PRIVATE KEY-----`),
}

// MatchesSecret reports whether patch matches any SecretPatterns entry,
// returning the matched substring for logging.
func MatchesSecret(patch string) (bool, string) {
	for _, pattern := range SecretPatterns {
		if m := pattern.FindString(patch); m != "" {
			return true, m
		}
	}
	return false, ""
}

// addedLines parses a GitHub-style per-file patch (hunks only, no
// "--- a/"/"+++ b/" file header) and returns the concatenated text of
// its added lines. Falls back to the raw patch if it doesn't parse as
// a set of hunks, so a malformed patch still gets scanned rather than
// silently skipped.
func addedLines(patch string) string {
	hunks, err := godiff.ParseHunks([]byte(patch))
	if err != nil {
		return patch
	}
	var b strings.Builder
	for _, h := range hunks {
		for _, line := range strings.Split(string(h.Body), "\n") {
			if strings.HasPrefix(line, "+") {
				b.WriteString(line)
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}
