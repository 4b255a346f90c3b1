package trainlog

import (
	"regexp"
	"strconv"
	"strings"
)

// strongErrorMarkers always indicate a genuine failure when paired with any
// exit code other than zero. The framework-specific strings cover model
// configurations the current trainer version cannot load.
var strongErrorMarkers = []string{
	"Error:",
	"Exception:",
	"RuntimeError",
	"FileNotFoundError",
	"401 Client Error",
	"404 Client Error",
	"Repository Not Found",
	"model type", // "Model type gemma3 not supported" and friends
	"trust_remote_code",
}

var reDownloadPct = regexp.MustCompile(`Fetching\s+\d+\s+files?:\s*(\d+)%`)

// IsFailure decides whether a finished child process genuinely failed. The
// wrapped tool conflates informational stderr output with errors and is known
// to return non-zero after fully succeeding, so neither the exit code nor the
// stderr text is trusted on its own.
//
// Rules, in order:
//  1. exit code 0 is never a failure;
//  2. a strong error marker in stderr is always a failure;
//  3. a download stuck at 0% with a non-zero exit means the model could not
//     be fetched at all (access or not-found);
//  4. a download that reached 100% rescues a non-zero exit;
//  5. otherwise the exit code decides.
func IsFailure(exitCode int, stderr string) bool {
	if exitCode == 0 {
		return false
	}
	for _, marker := range strongErrorMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	if max, ok := maxDownloadPct(stderr); ok {
		if max == 0 {
			return true
		}
		if max == 100 {
			return false
		}
	}
	return exitCode != 0
}

// maxDownloadPct returns the highest download percentage seen in the text
// and whether any download marker was present at all.
func maxDownloadPct(s string) (int, bool) {
	matches := reDownloadPct.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, false
	}
	max := 0
	for _, m := range matches {
		if pct, err := strconv.Atoi(m[1]); err == nil && pct > max {
			max = pct
		}
	}
	return max, true
}
