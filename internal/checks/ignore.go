package checks

import (
	"path"

	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

// ApplyIgnores filters check results against a committee's ignore rules.
// Applied at display time only; the stored results stay verbatim.
func ApplyIgnores(results []*storage.CheckResult, rules []*storage.CheckResultIgnore) []*storage.CheckResult {
	if len(rules) == 0 {
		return results
	}
	out := make([]*storage.CheckResult, 0, len(results))
	for _, r := range results {
		if !ignored(r, rules) {
			out = append(out, r)
		}
	}
	return out
}

func ignored(r *storage.CheckResult, rules []*storage.CheckResultIgnore) bool {
	for _, rule := range rules {
		if matchGlob(rule.ReleaseGlob, r.Release) &&
			matchGlob(rule.CheckerGlob, r.Checker) &&
			matchGlob(rule.PrimaryGlob, r.PrimaryPath) &&
			matchGlob(rule.MemberGlob, r.MemberPath) &&
			matchGlob(rule.StatusGlob, string(r.Status)) &&
			matchGlob(rule.MessageGlob, r.Message) &&
			matchGlob(rule.RevisionGlob, r.Revision) {
			return true
		}
	}
	return false
}

// matchGlob treats an empty pattern as match-all; malformed patterns match
// nothing.
func matchGlob(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}
