package adapters

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/voxbridge/domain/entities"
	"github.com/satriahrh/voxbridge/domain/repositories"
)

const conversationsCollection = "conversations"

// MongoSessionStore implements SessionStore using MongoDB
type MongoSessionStore struct {
	collection  *mongo.Collection
	logger      *zap.Logger
	ttl         time.Duration
	instruction string
}

// NewMongoSessionStore creates a MongoDB backed session store. Indexes are
// created in the background.
func NewMongoSessionStore(db *mongo.Database, ttl time.Duration, defaultInstruction string, logger *zap.Logger) *MongoSessionStore {
	if ttl <= 0 {
		ttl = entities.DefaultConversationTTL
	}
	collection := db.Collection(conversationsCollection)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		userIndex := mongo.IndexModel{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		}

		statusExpiresIndex := mongo.IndexModel{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "expires_at", Value: 1},
			},
		}

		// Expired conversations are removed by the server
		ttlIndex := mongo.IndexModel{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		}

		_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
			userIndex,
			statusExpiresIndex,
			ttlIndex,
		})
		if err != nil {
			logger.Error("Failed to create conversation indexes", zap.Error(err))
		} else {
			logger.Info("Conversation indexes created successfully")
		}
	}()

	return &MongoSessionStore{
		collection:  collection,
		logger:      logger,
		ttl:         ttl,
		instruction: defaultInstruction,
	}
}

// Create implements repositories.SessionStore
func (r *MongoSessionStore) Create(ctx context.Context, id string, user *entities.User, provider entities.ProviderInfo) (*entities.Conversation, error) {
	if err := user.Validate(); err != nil {
		return nil, err
	}

	conv := entities.NewConversation(user.ID, provider.ID)
	if id != "" {
		conv.ID = id
	}
	conv.ExpiresAt = conv.LastActiveAt.Add(r.ttl)
	conv.SystemInstruction = r.instruction

	if err := conv.Validate(); err != nil {
		return nil, err
	}

	if _, err := r.collection.InsertOne(ctx, conv); err != nil {
		r.logger.Error("Failed to create conversation", zap.Error(err), zap.String("user_id", user.ID))
		return nil, err
	}

	r.logger.Info("Conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", user.ID),
		zap.String("provider_id", provider.ID))

	return conv, nil
}

// Resolve implements repositories.SessionStore
func (r *MongoSessionStore) Resolve(ctx context.Context, sessionID string, user *entities.User) (*entities.Conversation, error) {
	if err := user.Validate(); err != nil {
		return nil, err
	}

	filter := bson.M{
		"_id":        sessionID,
		"user_id":    user.ID,
		"status":     entities.ConversationStatusActive,
		"expires_at": bson.M{"$gt": time.Now()},
	}

	var conv entities.Conversation
	if err := r.collection.FindOne(ctx, filter).Decode(&conv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrSessionNotFound
		}
		r.logger.Error("Failed to resolve conversation", zap.Error(err), zap.String("conversation_id", sessionID))
		return nil, err
	}

	return &conv, nil
}

// End implements repositories.SessionStore
func (r *MongoSessionStore) End(ctx context.Context, conv *entities.Conversation, reason entities.EndReason) error {
	now := time.Now()
	return r.update(ctx, conv, bson.M{
		"$set": bson.M{
			"last_end_reason": reason,
			"last_active_at":  now,
			"expires_at":      now.Add(r.ttl),
		},
	})
}

// History implements repositories.SessionStore
func (r *MongoSessionStore) History(ctx context.Context, conv *entities.Conversation) ([]entities.Transcription, error) {
	if conv == nil {
		return nil, errors.New("conversation cannot be nil")
	}

	opts := options.FindOne().SetProjection(bson.M{"messages": 1})
	var stored entities.Conversation
	if err := r.collection.FindOne(ctx, bson.M{"_id": conv.ID}, opts).Decode(&stored); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrSessionNotFound
		}
		r.logger.Error("Failed to load history", zap.Error(err), zap.String("conversation_id", conv.ID))
		return nil, err
	}

	return stored.Transcriptions(), nil
}

// SaveTranscription implements repositories.SessionStore
func (r *MongoSessionStore) SaveTranscription(ctx context.Context, conv *entities.Conversation, t entities.Transcription) error {
	if !t.Final {
		return nil
	}

	now := time.Now()
	message := entities.HistoryMessage{Timestamp: now, Role: t.Role, Text: t.Text}
	err := r.update(ctx, conv, bson.M{
		"$push": bson.M{"messages": message},
		"$set": bson.M{
			"last_active_at": now,
			"expires_at":     now.Add(r.ttl),
		},
	})
	if err != nil {
		return err
	}

	r.logger.Debug("Message added to conversation",
		zap.String("conversation_id", conv.ID),
		zap.String("role", string(t.Role)))
	return nil
}

// SystemInstruction implements repositories.SessionStore
func (r *MongoSessionStore) SystemInstruction(ctx context.Context, conv *entities.Conversation) (string, error) {
	if conv == nil {
		return "", errors.New("conversation cannot be nil")
	}
	return conv.SystemInstruction, nil
}

// ExpireSessions marks conversations past their expiration as expired
func (r *MongoSessionStore) ExpireSessions(ctx context.Context) error {
	filter := bson.M{
		"status":     entities.ConversationStatusActive,
		"expires_at": bson.M{"$lt": time.Now()},
	}

	update := bson.M{
		"$set": bson.M{
			"status": entities.ConversationStatusExpired,
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		r.logger.Error("Failed to expire conversations", zap.Error(err))
		return err
	}

	if result.ModifiedCount > 0 {
		r.logger.Info("Expired conversations", zap.Int64("count", result.ModifiedCount))
	}

	return nil
}

func (r *MongoSessionStore) update(ctx context.Context, conv *entities.Conversation, update bson.M) error {
	if conv == nil {
		return errors.New("conversation cannot be nil")
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": conv.ID}, update)
	if err != nil {
		r.logger.Error("Failed to update conversation", zap.Error(err), zap.String("conversation_id", conv.ID))
		return err
	}
	if result.MatchedCount == 0 {
		return repositories.ErrSessionNotFound
	}
	return nil
}
