package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/storage"
)

// historyDoc — BSON-представление записи. UUID хранятся строками,
// время — в миллисекундах (точность MongoDB DateTime).
type historyDoc struct {
	ID         string    `bson:"_id"`
	UserID     string    `bson:"user_id"`
	Prompt     string    `bson:"prompt"`
	Model      string    `bson:"model"`
	Content    string    `bson:"content"`
	TokensUsed int       `bson:"tokens_used"`
	AuthMethod string    `bson:"auth_method"`
	APIKeyID   string    `bson:"api_key_id,omitempty"`
	CreatedAt  time.Time `bson:"created_at"`
}

func toDoc(e *models.HistoryEntry) historyDoc {
	doc := historyDoc{
		ID:         e.ID.String(),
		UserID:     e.UserID.String(),
		Prompt:     e.Prompt,
		Model:      e.Model,
		Content:    e.Content,
		TokensUsed: e.TokensUsed,
		AuthMethod: string(e.AuthMethod),
		CreatedAt:  e.CreatedAt.UTC().Truncate(time.Millisecond),
	}

	if e.APIKeyID != nil {
		doc.APIKeyID = e.APIKeyID.String()
	}

	return doc
}

func (d historyDoc) toModel() (*models.HistoryEntry, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, err
	}

	e := &models.HistoryEntry{
		ID:         id,
		UserID:     userID,
		Prompt:     d.Prompt,
		Model:      d.Model,
		Content:    d.Content,
		TokensUsed: d.TokensUsed,
		AuthMethod: models.AuthMethod(d.AuthMethod),
		CreatedAt:  d.CreatedAt.UTC(),
	}

	if d.APIKeyID != "" {
		keyID, err := uuid.Parse(d.APIKeyID)
		if err != nil {
			return nil, err
		}
		e.APIKeyID = &keyID
	}

	return e, nil
}

// SaveHistory сохраняет выполненную команду.
func (m *Mongo) SaveHistory(ctx context.Context, e *models.HistoryEntry) error {
	const op = "storage/mongo/SaveHistory"

	if _, err := m.history.InsertOne(ctx, toDoc(e)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: insert: %w", op, err)
	}

	return nil
}

// ListHistory возвращает записи пользователя, новые первыми.
func (m *Mongo) ListHistory(ctx context.Context, userID uuid.UUID, f models.HistoryFilter) ([]models.HistoryEntry, error) {
	const op = "storage/mongo/ListHistory"

	filter := bson.D{{Key: "user_id", Value: userID.String()}}

	created := bson.D{}
	if f.From != nil {
		created = append(created, bson.E{Key: "$gte", Value: f.From.UTC()})
	}
	if f.To != nil {
		created = append(created, bson.E{Key: "$lte", Value: f.To.UTC()})
	}
	if len(created) > 0 {
		filter = append(filter, bson.E{Key: "created_at", Value: created})
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(f.Offset)).
		SetLimit(int64(f.Limit))

	cur, err := m.history.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("%s: find: %w", op, err)
	}
	defer cur.Close(ctx)

	entries := make([]models.HistoryEntry, 0)
	for cur.Next(ctx) {
		var doc historyDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", op, err)
		}

		e, err := doc.toModel()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		entries = append(entries, *e)
	}

	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%s: cursor: %w", op, err)
	}

	return entries, nil
}

// HistoryByID возвращает запись пользователя.
func (m *Mongo) HistoryByID(ctx context.Context, userID, id uuid.UUID) (*models.HistoryEntry, error) {
	const op = "storage/mongo/HistoryByID"

	var doc historyDoc
	err := m.history.FindOne(ctx, ownedBy(userID, id)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: find: %w", op, err)
	}

	e, err := doc.toModel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return e, nil
}

// DeleteHistory удаляет запись пользователя.
func (m *Mongo) DeleteHistory(ctx context.Context, userID, id uuid.UUID) error {
	const op = "storage/mongo/DeleteHistory"

	res, err := m.history.DeleteOne(ctx, ownedBy(userID, id))
	if err != nil {
		return fmt.Errorf("%s: delete: %w", op, err)
	}

	if res.DeletedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// HistoryStats агрегирует записи с created_at >= since по моделям.
func (m *Mongo) HistoryStats(ctx context.Context, userID uuid.UUID, since time.Time) (*models.HistoryStats, error) {
	const op = "storage/mongo/HistoryStats"

	pipeline := mongodriver.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "user_id", Value: userID.String()},
			{Key: "created_at", Value: bson.D{{Key: "$gte", Value: since.UTC()}}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$model"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "tokens", Value: bson.D{{Key: "$sum", Value: "$tokens_used"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}

	cur, err := m.history.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("%s: aggregate: %w", op, err)
	}
	defer cur.Close(ctx)

	stats := &models.HistoryStats{ModelDistribution: make([]models.ModelUsage, 0)}
	for cur.Next(ctx) {
		var row struct {
			Model  string `bson:"_id"`
			Count  int64  `bson:"count"`
			Tokens int64  `bson:"tokens"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", op, err)
		}

		stats.TotalCommands += row.Count
		stats.TotalTokens += row.Tokens
		stats.ModelDistribution = append(stats.ModelDistribution, models.ModelUsage{Model: row.Model, Count: row.Count})
	}

	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%s: cursor: %w", op, err)
	}

	return stats, nil
}

func ownedBy(userID, id uuid.UUID) bson.D {
	return bson.D{{Key: "_id", Value: id.String()}, {Key: "user_id", Value: userID.String()}}
}

// Проверка на соответствие интерфейсу HistoryStorage.
var _ storage.HistoryStorage = (*Mongo)(nil)
