//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/remote-command-gateway/internal/audit"
)

// go test -tags integration ./internal/repository/postgres/ с GATEWAY_TEST_POSTGRES_DSN
func TestAuditRepo_Postgres(t *testing.T) {
	dsn := os.Getenv("GATEWAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GATEWAY_TEST_POSTGRES_DSN is not set")
	}
	ctx := context.Background()

	repo, err := OpenAuditRepo(ctx, dsn)
	require.NoError(t, err)
	defer repo.Close()

	before, _, err := repo.Last(ctx)
	require.NoError(t, err)

	fs := audit.NewAgentFS(repo, audit.Options{BatchSize: 2}, nil, zap.NewNop())
	require.NoError(t, fs.Start(ctx))
	for i := 0; i < 5; i++ {
		fs.Log(audit.Record{Identity: "42", Action: "status", Decision: audit.DecisionAllowed, Outcome: audit.OutcomeSuccess})
	}
	fs.Stop()

	last, ok, err := repo.Last(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, before.Seq+5, last.Seq)

	all, err := repo.ReadAll(ctx)
	require.NoError(t, err)
	assert.NoError(t, audit.VerifyChain(all))

	tail, err := repo.Tail(ctx, 3)
	require.NoError(t, err)
	require.Len(t, tail, 3)
	assert.Equal(t, last, tail[2])
}
