// Package vote coordinates release votes: starting the vote thread,
// tabulating castings from the mailing-list archive, and resolving the
// outcome.
package vote

import (
	"regexp"
	"strings"
)

// Casting is one voter's position.
type Casting int

const (
	CastingNone Casting = iota
	CastingYes
	CastingNo
	CastingAbstain
)

func (c Casting) String() string {
	switch c {
	case CastingYes:
		return "yes"
	case CastingNo:
		return "no"
	case CastingAbstain:
		return "abstain"
	default:
		return "none"
	}
}

var (
	yesPattern     = regexp.MustCompile(`(?:^|\s)\+1(?:$|[\s).,;:!])`)
	noPattern      = regexp.MustCompile(`(?:^|\s)-1(?:$|[\s).,;:!])`)
	abstainPattern = regexp.MustCompile(`(?:^|\s)[+-]?0(?:$|[\s).,;:!])`)
)

// teachingIndicators mark lines quoting the ballot itself rather than
// casting a vote.
var teachingIndicators = []string{
	"[ ]",
	"[x]",
	"+1 votes",
	"-1 votes",
	"vote will remain open",
}

// ParseCasting extracts the vote cast in one message body. Scanning stops
// at quoted text or a signature marker. A body casting both +1 and -1 is
// ambiguous and yields CastingNone.
func ParseCasting(body string) Casting {
	var yes, no, abstain bool

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") || line == "-- " || trimmed == "--" {
			break
		}
		if isTeachingLine(trimmed) {
			continue
		}
		switch {
		case yesPattern.MatchString(line):
			yes = true
		case noPattern.MatchString(line):
			no = true
		case abstainPattern.MatchString(line):
			abstain = true
		}
	}

	switch {
	case yes && no:
		return CastingNone
	case yes:
		return CastingYes
	case no:
		return CastingNo
	case abstain:
		return CastingAbstain
	default:
		return CastingNone
	}
}

func isTeachingLine(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range teachingIndicators {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

var addressPattern = regexp.MustCompile(`<([^>]+)>`)

// SenderAddress extracts the email address from a From header value and
// strips the mailing-list ".invalid" rewrite suffix.
func SenderAddress(from string) string {
	addr := strings.TrimSpace(from)
	if m := addressPattern.FindStringSubmatch(from); m != nil {
		addr = m[1]
	}
	addr = strings.TrimSuffix(addr, ".INVALID")
	addr = strings.TrimSuffix(addr, ".invalid")
	return strings.ToLower(addr)
}
