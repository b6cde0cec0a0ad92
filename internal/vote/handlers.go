package vote

import (
	"context"
	"fmt"

	"github.com/sebbASF/tooling-trusted-releases/internal/ports"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
	"github.com/sebbASF/tooling-trusted-releases/internal/tasks"
)

// SendHandler returns the message-send task handler, delivering one queued
// email through the outbound sender.
func SendHandler(sender ports.MessageSender) tasks.Handler {
	return func(ctx context.Context, task *storage.Task) (any, error) {
		var args tasks.MessageSendArgs
		if err := tasks.DecodeArgs(task, &args); err != nil {
			return nil, err
		}
		messageID, warnings, err := sender.Send(ctx,
			args.EmailSender, args.EmailRecipient, args.Subject, args.Body, args.InReplyTo)
		if err != nil {
			return nil, err
		}
		return map[string]any{"message_id": messageID, "warnings": warnings}, nil
	}
}

// InitiateHandler returns the vote-initiate task handler: it sends the vote
// email and records the resulting thread id on the release, which is what
// tabulation later reads.
func InitiateHandler(store *storage.Store, sender ports.MessageSender) tasks.Handler {
	return func(ctx context.Context, task *storage.Task) (any, error) {
		var args tasks.VoteInitiateArgs
		if err := tasks.DecodeArgs(task, &args); err != nil {
			return nil, err
		}

		from := fmt.Sprintf("%s@apache.org", args.InitiatorID)
		messageID, warnings, err := sender.Send(ctx,
			from, args.EmailTo, args.Subject, args.Body, "")
		if err != nil {
			return nil, err
		}

		q := store.Queries()
		rel, err := q.GetRelease(ctx, args.ReleaseName)
		if err != nil {
			return nil, err
		}
		rel.VoteThreadID = messageID
		if err := q.UpdateReleaseVote(ctx, rel); err != nil {
			return nil, err
		}
		return map[string]any{"message_id": messageID, "warnings": warnings}, nil
	}
}
