package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/remote-command-gateway/internal/audit"
)

func openTestRepo(t *testing.T) *AuditRepo {
	t.Helper()
	repo, err := OpenAuditRepo(filepath.Join(t.TempDir(), "data", "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// fillViaAuditor пишет записи через настоящий воркер журнала, чтобы цепочка была валидной.
func fillViaAuditor(t *testing.T, repo *AuditRepo, n int) {
	t.Helper()
	fs := audit.NewAgentFS(repo, audit.Options{BatchSize: 4}, nil, zap.NewNop())
	require.NoError(t, fs.Start(context.Background()))
	for i := 0; i < n; i++ {
		fs.Log(audit.Record{
			Identity:      "42",
			MessageID:     "m",
			Action:        "read_file",
			IntentSummary: "read_file path=\"notes.txt\"",
			Decision:      audit.DecisionAllowed,
			Outcome:       audit.OutcomeSuccess,
			DurationMs:    int64(i),
		})
	}
	fs.Stop()
}

func TestAuditRepo_EmptyJournal(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	_, ok, err := repo.Last(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := repo.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.NoError(t, repo.WriteBatch(ctx, nil))
}

func TestAuditRepo_RoundTripKeepsChainValid(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	fillViaAuditor(t, repo, 10)

	all, err := repo.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 10)
	assert.NoError(t, audit.VerifyChain(all))
	assert.Equal(t, "read_file path=\"notes.txt\"", all[0].IntentSummary)

	last, ok, err := repo.Last(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), last.Seq)

	tail, err := repo.Tail(ctx, 3)
	require.NoError(t, err)
	require.Len(t, tail, 3)
	assert.Equal(t, []int64{8, 9, 10}, []int64{tail[0].Seq, tail[1].Seq, tail[2].Seq})
	assert.NoError(t, audit.VerifyChain(tail))
}

func TestAuditRepo_ResumesAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	repo, err := OpenAuditRepo(path)
	require.NoError(t, err)
	fillViaAuditor(t, repo, 3)
	require.NoError(t, repo.Close())

	repo, err = OpenAuditRepo(path)
	require.NoError(t, err)
	defer repo.Close()
	fillViaAuditor(t, repo, 2)

	all, err := repo.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.NoError(t, audit.VerifyChain(all))
}

func TestAuditRepo_IsAppendOnly(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	fillViaAuditor(t, repo, 2)

	_, err := repo.db.ExecContext(ctx, `UPDATE audit_records SET decision = 'denied' WHERE seq = 1`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = repo.db.ExecContext(ctx, `DELETE FROM audit_records WHERE seq = 2`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	// повторная вставка того же seq тоже отклоняется
	all, err := repo.ReadAll(ctx)
	require.NoError(t, err)
	assert.Error(t, repo.WriteBatch(ctx, all[:1]))
}

func TestAuditRepo_Stats(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	fs := audit.NewAgentFS(repo, audit.Options{BatchSize: 8}, nil, zap.NewNop())
	require.NoError(t, fs.Start(ctx))
	log := func(identity, action string, d audit.Decision, o audit.Outcome) {
		fs.Log(audit.Record{Identity: identity, Action: action, Decision: d, Outcome: o})
	}
	log("42", "open_app", audit.DecisionAllowed, audit.OutcomeSuccess)
	log("42", "open_app", audit.DecisionAllowed, audit.OutcomeSuccess)
	log("42", "read_file", audit.DecisionAllowed, audit.OutcomeFailure)
	log("42", "kill_process", audit.DecisionDenied, audit.OutcomeNone)
	log("42", "", audit.DecisionDenied, audit.OutcomeNone)
	log("77", "open_app", audit.DecisionAllowed, audit.OutcomeSuccess)
	fs.Stop()

	s, err := repo.Stats(ctx, "42", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Total)
	assert.Equal(t, int64(2), s.Succeeded)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, []audit.ActionCount{
		{Action: "open_app", Count: 2, Succeeded: 2},
		{Action: "read_file", Count: 1, Succeeded: 0},
	}, s.Top)

	empty, err := repo.Stats(ctx, "nobody", 5)
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Empty(t, empty.Top)
}
