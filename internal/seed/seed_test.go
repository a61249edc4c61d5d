package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"school-copilot/internal/database"
	"school-copilot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureYAML = `
users:
  - id: ms-green
    name: Ms Green
    role: teacher
    issue_token: true
  - id: alice
    role: student
    issue_token: true
  - id: bob
    role: student
classes:
  - id: bio101
    name: Biology
    teacher: ms-green
    daily_question_limit: 10
    blocked_terms: [answer key]
    students: [alice, bob]
  - id: art100
    name: Art
    teacher: ms-green
    disabled: true
`

type stubIssuer struct{}

func (stubIssuer) Issue(userID, role string) (string, time.Time, error) {
	return "token-" + userID, time.Unix(0, 0), nil
}

type recordingCollections struct{ created []string }

func (r *recordingCollections) CreateClassCollection(_ context.Context, classID string) error {
	r.created = append(r.created, classID)
	return nil
}

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAndApply(t *testing.T) {
	f, err := Load(writeFixture(t, fixtureYAML))
	require.NoError(t, err)
	require.Len(t, f.Users, 3)
	require.Len(t, f.Classes, 2)

	store, err := database.OpenSQLStore("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	ctx := context.Background()
	collections := &recordingCollections{}

	sum, err := Apply(ctx, store, collections, stubIssuer{}, f)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.UsersCreated)
	assert.Equal(t, 2, sum.ClassesCreated)
	assert.Equal(t, 2, sum.AccessGranted)
	require.Len(t, sum.Tokens, 2)
	assert.Equal(t, "token-ms-green", sum.Tokens[0].Token)
	assert.Equal(t, models.RoleStudent, sum.Tokens[1].Role)
	assert.Equal(t, []string{"bio101", "art100"}, collections.created)

	bio, err := store.GetClass(ctx, "bio101")
	require.NoError(t, err)
	assert.True(t, bio.Enabled)
	assert.Equal(t, 10, bio.DailyQuestionLimit)
	assert.Equal(t, []string{"answer key"}, bio.BlockedTerms)

	art, err := store.GetClass(ctx, "art100")
	require.NoError(t, err)
	assert.False(t, art.Enabled)
	assert.Equal(t, models.DefaultDailyQuestionLimit, art.DailyQuestionLimit)

	access, err := store.GetStudentAccess(ctx, "alice", "bio101")
	require.NoError(t, err)
	assert.True(t, access.Enabled)

	// Re-running keeps existing rows, including quota counters
	access.DailyQuestionCount = 4
	require.NoError(t, store.UpsertStudentAccess(ctx, access))

	again, err := Apply(ctx, store, collections, stubIssuer{}, f)
	require.NoError(t, err)
	assert.Zero(t, again.UsersCreated)
	assert.Zero(t, again.ClassesCreated)
	assert.Zero(t, again.AccessGranted)
	assert.Len(t, again.Tokens, 2)
	assert.Len(t, collections.created, 2)

	access, err = store.GetStudentAccess(ctx, "alice", "bio101")
	require.NoError(t, err)
	assert.Equal(t, 4, access.DailyQuestionCount)
}

func TestLoadRejectsInvalidFixtures(t *testing.T) {
	cases := map[string]string{
		"unknown role":     "users:\n  - id: x\n    role: janitor\n",
		"missing user id":  "users:\n  - role: admin\n",
		"duplicate user":   "users:\n  - id: x\n    role: admin\n  - id: x\n    role: student\n",
		"student teaching": "users:\n  - id: s\n    role: student\nclasses:\n  - id: c\n    teacher: s\n",
		"teacher enrolled": "users:\n  - id: t\n    role: teacher\nclasses:\n  - id: c\n    students: [t]\n",
		"negative limit":   "classes:\n  - id: c\n    daily_question_limit: -1\n",
		"missing class id": "classes:\n  - name: nameless\n",
		"malformed yaml":   "users: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFixture(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
