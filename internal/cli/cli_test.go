package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/auth"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"DATABASE_URL", "PORT", "CORS_ORIGIN", "SERVICE_KEY_HASH", "WORKERS",
		"USER_TIMEOUT", "LOG_FORMAT", "DEFAULT_TIMEZONE", "MIGRATIONS_DIR"} {
		t.Setenv(name, "")
	}
	t.Setenv("STORE", "memory")
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("LOG_LEVEL", "error")
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHashKeyVerifies(t *testing.T) {
	out, err := run(t, "", "hash-key", "cron-key")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	assert.True(t, auth.NewManager("", hash).VerifyServiceKey("cron-key"))
}

func TestHashKeyFromStdinJSON(t *testing.T) {
	out, err := run(t, "cron-key\n", "hash-key", "--format", "json")
	require.NoError(t, err)
	var res map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, auth.NewManager("", res["hash"]).VerifyServiceKey("cron-key"))

	_, err = run(t, "", "hash-key")
	assert.EqualError(t, err, "empty key")
}

func TestTokenCommand(t *testing.T) {
	memoryEnv(t)
	out, err := run(t, "", "token", "user-1", "--ttl", "5m")
	require.NoError(t, err)

	claims, err := auth.NewManager("cli-secret", "").ParseToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestTokenRequiresSecret(t *testing.T) {
	memoryEnv(t)
	t.Setenv("JWT_SECRET", "")
	_, err := run(t, "", "token", "user-1")
	assert.ErrorContains(t, err, "JWT_SECRET is required")
}

func TestScoreCommandMemoryStore(t *testing.T) {
	memoryEnv(t)
	out, err := run(t, "", "score", "--date", "2026-03-10", "--user", "user-1", "--format", "json")
	require.NoError(t, err)

	var res service.BatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Successful)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "user-1", res.Results[0].UserID)
}

func TestScoreCommandTextOutput(t *testing.T) {
	memoryEnv(t)
	out, err := run(t, "", "score", "--date", "2026-03-10", "--user", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "2026-03-10: 1 processed, 1 successful, 0 failed")
	assert.Contains(t, out, "user-1 ok")
}

func TestScoreCommandRejectsBadDate(t *testing.T) {
	memoryEnv(t)
	_, err := run(t, "", "score", "--date", "tomorrow")
	assert.ErrorContains(t, err, "invalid --date")
}

func TestMigrateNeedsPostgres(t *testing.T) {
	memoryEnv(t)
	_, err := run(t, "", "migrate")
	assert.ErrorContains(t, err, "migrate needs STORE=postgres")
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, "", "hash-key", "k", "--format", "yaml")
	assert.ErrorContains(t, err, "invalid format")
}
