package vote

import (
	"strings"
	"time"

	"github.com/sebbASF/tooling-trusted-releases/internal/ports"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

// maxThreadMessages caps how many archive messages one tabulation reads.
const maxThreadMessages = 10000

// VoterStatus classifies a voter by committee membership.
type VoterStatus string

const (
	VoterBinding     VoterStatus = "BINDING"
	VoterCommitter   VoterStatus = "COMMITTER"
	VoterContributor VoterStatus = "CONTRIBUTOR"
	VoterUnknown     VoterStatus = "UNKNOWN"
)

// VoteRecord is the final casting of one voter.
type VoteRecord struct {
	UID     string
	Email   string
	Status  VoterStatus
	Casting Casting
	// Updated reports the voter changed an earlier casting in the thread.
	Updated bool
}

// Counts groups castings per voter status.
type Counts struct {
	Yes     int
	No      int
	Abstain int
}

// Summary is the tabulated outcome of a vote thread.
type Summary struct {
	ByStatus map[VoterStatus]Counts
	Votes    []VoteRecord

	BindingYes int
	BindingNo  int
	Passed     bool
	Closed     bool
	Outcome    string
}

// Tabulate reads a vote thread and produces the summary. The pass rule is
// binding_yes >= 3 and binding_yes > binding_no; while the minimum duration
// has not elapsed the outcome is annotated as provisional.
func Tabulate(messages []ports.Message, committee *storage.Committee, emailToUID map[string]string, voteEnds *time.Time, now time.Time) *Summary {
	if len(messages) > maxThreadMessages {
		messages = messages[:maxThreadMessages]
	}

	// Latest casting per voter wins; order is thread order.
	latest := make(map[string]*VoteRecord)
	var order []string
	for _, msg := range messages {
		casting := ParseCasting(msg.Body)
		if casting == CastingNone {
			continue
		}
		email := SenderAddress(msg.From)
		uid := resolveUID(email, emailToUID)

		key := uid
		if key == "" {
			key = email
		}
		if prev, seen := latest[key]; seen {
			prev.Casting = casting
			prev.Updated = true
			continue
		}
		latest[key] = &VoteRecord{
			UID:     uid,
			Email:   email,
			Status:  classify(uid, committee),
			Casting: casting,
		}
		order = append(order, key)
	}

	s := &Summary{ByStatus: make(map[VoterStatus]Counts)}
	for _, key := range order {
		rec := latest[key]
		s.Votes = append(s.Votes, *rec)
		counts := s.ByStatus[rec.Status]
		switch rec.Casting {
		case CastingYes:
			counts.Yes++
		case CastingNo:
			counts.No++
		case CastingAbstain:
			counts.Abstain++
		}
		s.ByStatus[rec.Status] = counts
	}

	binding := s.ByStatus[VoterBinding]
	s.BindingYes = binding.Yes
	s.BindingNo = binding.No
	s.Passed = s.BindingYes >= 3 && s.BindingYes > s.BindingNo
	s.Closed = voteEnds != nil && !now.Before(*voteEnds)

	switch {
	case s.Closed && s.Passed:
		s.Outcome = "The vote passed."
	case s.Closed && !s.Passed:
		s.Outcome = "The vote failed."
	case s.Passed:
		s.Outcome = "The vote would pass if closed now."
	default:
		s.Outcome = "The vote would fail if closed now."
	}
	return s
}

// resolveUID maps a sender address to a foundation uid: apache.org
// addresses resolve directly, anything else through the directory map.
func resolveUID(email string, emailToUID map[string]string) string {
	if local, ok := strings.CutSuffix(email, "@apache.org"); ok {
		return local
	}
	return emailToUID[email]
}

func classify(uid string, committee *storage.Committee) VoterStatus {
	switch {
	case uid == "":
		return VoterUnknown
	case committee.IsMember(uid):
		return VoterBinding
	case committee.IsCommitter(uid):
		return VoterCommitter
	default:
		return VoterContributor
	}
}
