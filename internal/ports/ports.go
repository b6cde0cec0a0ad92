// Package ports declares the external collaborators the release engine
// consumes. Implementations live at the edges; the core depends only on
// these interfaces.
package ports

import "context"

// Message is one mailing-list message from an archive thread.
type Message struct {
	MessageID string
	From      string
	Subject   string
	Body      string
}

// IdentityProvider resolves a user's committee memberships.
type IdentityProvider interface {
	// Memberships returns the committees where uid is a member and those
	// where uid is a committer.
	Memberships(ctx context.Context, uid string) (member, committer []string, err error)
}

// MailArchiveReader fetches vote threads from the mailing-list archive.
type MailArchiveReader interface {
	// ThreadMessages returns the messages of a thread, oldest first.
	ThreadMessages(ctx context.Context, threadID string) ([]Message, error)
	// ArchiveURL resolves the permanent archive URL for a message id sent
	// to a recipient list, or "" when the archive has not indexed it yet.
	ArchiveURL(ctx context.Context, messageID, recipient string) (string, error)
}

// MessageSender delivers outbound email.
type MessageSender interface {
	// Send delivers one message and returns its message id plus any
	// delivery warnings.
	Send(ctx context.Context, sender, recipient, subject, body, inReplyTo string) (messageID string, warnings []string, err error)
}

// Directory maps registered email addresses to foundation user ids.
type Directory interface {
	EmailToUID(ctx context.Context) (map[string]string, error)
}
