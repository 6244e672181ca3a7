package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/storage"
)

// testTimeout — общий дедлайн на операции с БД в тестах.
const testTimeout = 10 * time.Second

// TestMain запускает MongoDB в контейнере один раз на пакет.
// Каждый тест работает в своей БД (см. newTestMongo).
func TestMain(m *testing.M) {
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		os.Exit(m.Run())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "mongo:7.0",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(90 * time.Second),
	}

	mongoC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start mongo testcontainer: %v\n", err)
		os.Exit(1)
	}

	host, err := mongoC.Host(ctx)
	if err != nil {
		_ = mongoC.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := mongoC.MappedPort(ctx, "27017/tcp")
	if err != nil {
		_ = mongoC.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get mapped port: %v\n", err)
		os.Exit(1)
	}

	_ = os.Setenv("HISTORY_MONGO_URL", fmt.Sprintf("mongodb://%s:%s", host, port.Port()))

	code := m.Run()

	_ = mongoC.Terminate(context.Background())
	os.Exit(code)
}

func newTestMongo(t *testing.T) *Mongo {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	uri := os.Getenv("HISTORY_MONGO_URL") + "/history_test_" + uuid.New().String()[:8]

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	m, err := New(ctx, uri)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	return m
}

func TestDatabaseFromURI(t *testing.T) {
	t.Parallel()

	require.Equal(t, "history", databaseFromURI("mongodb://localhost:27017/history"))
	require.Equal(t, defaultDBName, databaseFromURI("mongodb://localhost:27017"))
	require.Equal(t, defaultDBName, databaseFromURI("mongodb://localhost:27017/"))
	require.Equal(t, defaultDBName, databaseFromURI("%%%"))
}

func TestDocRoundTrip_KeepsProvenance(t *testing.T) {
	t.Parallel()

	keyID := uuid.New()
	e := &models.HistoryEntry{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		Prompt:     "p",
		Model:      "gpt-4",
		Content:    "c",
		TokensUsed: 12,
		AuthMethod: models.AuthMethodAPIKey,
		APIKeyID:   &keyID,
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 999999999, time.UTC),
	}

	got, err := toDoc(e).toModel()
	require.NoError(t, err)
	require.Equal(t, e.ID, got.ID)
	require.Equal(t, keyID, *got.APIKeyID)
	require.Equal(t, models.AuthMethodAPIKey, got.AuthMethod)
	require.Equal(t, e.CreatedAt.Truncate(time.Millisecond), got.CreatedAt)

	e.APIKeyID = nil
	got, err = toDoc(e).toModel()
	require.NoError(t, err)
	require.Nil(t, got.APIKeyID)
}

func TestNew_EmptyURI(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "")
	require.Error(t, err)
}

func TestIntegration_History(t *testing.T) {
	m := newTestMongo(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	owner, stranger := uuid.New(), uuid.New()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i, model := range []string{"gpt-4", "claude-3-opus", "gpt-4"} {
		e := &models.HistoryEntry{
			ID:         uuid.New(),
			UserID:     owner,
			Prompt:     fmt.Sprintf("prompt %d", i),
			Model:      model,
			Content:    "answer",
			TokensUsed: 5,
			AuthMethod: models.AuthMethodToken,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, m.SaveHistory(ctx, e))
		ids = append(ids, e.ID)

		if i == 0 {
			require.ErrorIs(t, m.SaveHistory(ctx, e), storage.ErrAlreadyExists)
		}
	}

	list, err := m.ListHistory(ctx, owner, models.HistoryFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, ids[2], list[0].ID)

	from := base.Add(30 * time.Second)
	list, err = m.ListHistory(ctx, owner, models.HistoryFilter{Limit: 10, From: &from})
	require.NoError(t, err)
	require.Len(t, list, 2)

	list, err = m.ListHistory(ctx, stranger, models.HistoryFilter{Limit: 10})
	require.NoError(t, err)
	require.Empty(t, list)

	stats, err := m.HistoryStats(ctx, owner, base)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.TotalCommands)
	require.EqualValues(t, 15, stats.TotalTokens)
	require.Equal(t, models.ModelUsage{Model: "gpt-4", Count: 2}, stats.ModelDistribution[0])

	_, err = m.HistoryByID(ctx, stranger, ids[0])
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.ErrorIs(t, m.DeleteHistory(ctx, stranger, ids[0]), storage.ErrNotFound)

	require.NoError(t, m.DeleteHistory(ctx, owner, ids[0]))
	_, err = m.HistoryByID(ctx, owner, ids[0])
	require.ErrorIs(t, err, storage.ErrNotFound)
}
