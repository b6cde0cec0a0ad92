package vote

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebbASF/tooling-trusted-releases/internal/ports"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
	"github.com/sebbASF/tooling-trusted-releases/internal/tasks"
)

type sentMessage struct {
	from, to, subject, body, inReplyTo string
}

type recordingSender struct {
	sent []sentMessage
	err  error
}

func (s *recordingSender) Send(ctx context.Context, sender, recipient, subject, body, inReplyTo string) (string, []string, error) {
	if s.err != nil {
		return "", nil, s.err
	}
	s.sent = append(s.sent, sentMessage{sender, recipient, subject, body, inReplyTo})
	return fmt.Sprintf("<msg-%d@apache.org>", len(s.sent)), nil, nil
}

func TestInitiateHandlerRecordsThread(t *testing.T) {
	f := newVoteFixture(t, false)
	ctx := context.Background()
	rev := f.startRelease(t)

	_, err := f.coord.Start(ctx, StartRequest{
		ReleaseName:       "test-0.1",
		RevisionNumber:    rev.Number,
		EmailTo:           "dev@tooling.apache.org",
		InitiatorID:       "alice",
		InitiatorFullName: "Alice Example",
	})
	require.NoError(t, err)

	pending, err := f.store.Queries().ListTasks(ctx, storage.TaskFilter{Type: tasks.TypeVoteInitiate})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	sender := &recordingSender{}
	result, err := InitiateHandler(f.store, sender)(ctx, pending[0])
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "alice@apache.org", sender.sent[0].from)
	assert.Equal(t, "dev@tooling.apache.org", sender.sent[0].to)

	rel, err := f.store.Queries().GetRelease(ctx, "test-0.1")
	require.NoError(t, err)
	assert.Equal(t, "<msg-1@apache.org>", rel.VoteThreadID)
	assert.Equal(t, rel.VoteThreadID, result.(map[string]any)["message_id"])

	// With the thread recorded, tabulation finds its messages.
	f.archive.messages = []ports.Message{
		msg("alice@apache.org", "+1"),
		msg("bob@apache.org", "+1"),
		msg("carol@apache.org", "+1"),
	}
	summary, err := f.coord.Tabulate(ctx, "test-0.1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.BindingYes)
}

func TestSendHandlerDeliversQueuedMessage(t *testing.T) {
	ctx := context.Background()

	args, err := tasks.EncodeArgs(tasks.MessageSendArgs{
		EmailSender:    "alice@apache.org",
		EmailRecipient: "dev@tooling.apache.org",
		Subject:        "[RESULT] test 0.1",
		Body:           "The vote passed.",
		InReplyTo:      "<round-one@apache.org>",
	})
	require.NoError(t, err)
	task := &storage.Task{Type: tasks.TypeMessageSend, Args: args}

	sender := &recordingSender{}
	result, err := SendHandler(sender)(ctx, task)
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "<round-one@apache.org>", sender.sent[0].inReplyTo)
	assert.Equal(t, "<msg-1@apache.org>", result.(map[string]any)["message_id"])

	// A relay failure surfaces so the task is recorded FAILED.
	down := &recordingSender{err: fmt.Errorf("relay down")}
	_, err = SendHandler(down)(ctx, task)
	require.Error(t, err)
}
