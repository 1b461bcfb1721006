// Package callrecords keeps a best-effort Mongo log of every call: when it
// rang, when it connected, how it ended, and the transcript lines produced
// by the model service. Failures are logged and never affect call handling.
package callrecords

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Recorder is the call-log contract the handlers and sessions write to. A
// nil *Store satisfies it as a no-op, so Mongo stays optional.
type Recorder interface {
	CallStarted(ctx context.Context, callID, callerID, dialedNumber string)
	CallConnected(ctx context.Context, callID, callConnectionID string)
	CallEnded(ctx context.Context, callID, outcome string)
	TranscriptLine(ctx context.Context, callID, speaker, text string)
}

type Store struct {
	client *mongo.Client
	calls  *mongo.Collection
	log    *zap.Logger
}

func NewStore(mongoURI, dbName string, log *zap.Logger) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(mongoURI).
		SetMaxPoolSize(50).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Store{
		client: client,
		calls:  client.Database(dbName).Collection("calls"),
		log:    log,
	}, nil
}

func (s *Store) Disconnect(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *Store) CallStarted(ctx context.Context, callID, callerID, dialedNumber string) {
	if s == nil {
		return
	}
	s.upsert(ctx, callID, bson.M{
		"call_id":    callID,
		"caller_id":  callerID,
		"acs_number": dialedNumber,
		"status":     "ringing",
		"started_at": time.Now().Format(time.RFC3339),
	})
}

func (s *Store) CallConnected(ctx context.Context, callID, callConnectionID string) {
	if s == nil {
		return
	}
	s.upsert(ctx, callID, bson.M{
		"call_connection_id": callConnectionID,
		"status":             "connected",
		"connected_at":       time.Now().Format(time.RFC3339),
	})
}

// CallEnded records the terminal outcome ("terminated", "transferred",
// "disconnected").
func (s *Store) CallEnded(ctx context.Context, callID, outcome string) {
	if s == nil {
		return
	}
	s.upsert(ctx, callID, bson.M{
		"status":   outcome,
		"ended_at": time.Now().Format(time.RFC3339),
	})
}

func (s *Store) TranscriptLine(ctx context.Context, callID, speaker, text string) {
	if s == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.calls.UpdateOne(opCtx,
		bson.M{"call_id": callID},
		bson.M{"$push": bson.M{"transcript": bson.M{
			"speaker": speaker,
			"text":    text,
			"at":      time.Now().Format(time.RFC3339),
		}}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		s.log.Warn("failed to append transcript line",
			zap.String("call_id", callID), zap.Error(err))
	}
}

func (s *Store) upsert(ctx context.Context, callID string, fields bson.M) {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.calls.UpdateOne(opCtx,
		bson.M{"call_id": callID},
		bson.M{"$set": fields},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		s.log.Warn("failed to update call record",
			zap.String("call_id", callID), zap.Error(err))
	}
}
