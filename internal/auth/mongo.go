package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const callerCollection = "caller"

// callerDocument is the stored shape of a caller in MongoDB.
type callerDocument struct {
	ObjectID     bson.ObjectID `bson:"_id,omitempty"`
	CallerID     string        `bson:"caller_id,omitempty"`
	IdpID        string        `bson:"idp_id"`
	Name         string        `bson:"name"`
	Email        string        `bson:"email"`
	FirstCreated time.Time     `bson:"first_created"`
	LastUpdated  time.Time     `bson:"last_updated"`
}

func (d callerDocument) caller() Caller {
	id := d.CallerID
	if id == "" && !d.ObjectID.IsZero() {
		id = d.ObjectID.Hex()
	}
	return Caller{
		ID:         id,
		ExternalID: d.IdpID,
		Name:       d.Name,
		Email:      d.Email,
		CreatedAt:  d.FirstCreated,
		UpdatedAt:  d.LastUpdated,
	}
}

// MongoDirectory implements Directory on a MongoDB collection.
type MongoDirectory struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

var (
	_ Directory = (*MongoDirectory)(nil)
	_ Pinger    = (*MongoDirectory)(nil)
)

// ConnectMongo connects to uri and returns a directory over database.caller.
func ConnectMongo(uri, database string, logger *slog.Logger) (*MongoDirectory, error) {
	if database == "" {
		return nil, errors.New("auth: mongodb database is required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	return NewMongoDirectory(client, database, logger), nil
}

func NewMongoDirectory(client *mongo.Client, database string, logger *slog.Logger) *MongoDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoDirectory{
		client: client,
		coll:   client.Database(database).Collection(callerCollection),
		logger: logger.With(slog.String("component", "directory.mongodb")),
	}
}

func (d *MongoDirectory) Lookup(ctx context.Context, externalID string) (*Caller, error) {
	externalID, err := normalizeExternalID(externalID)
	if err != nil {
		return nil, err
	}
	cursor, err := d.coll.Find(ctx, bson.D{{Key: "idp_id", Value: externalID}}, options.Find().SetLimit(2))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}
	defer cursor.Close(ctx)

	var matches []Caller
	for cursor.Next(ctx) {
		var doc callerDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode caller: %w", ErrDirectoryUnavailable, err)
		}
		matches = append(matches, doc.caller())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}

	caller, err := single(externalID, matches)
	if err != nil && len(matches) > 1 {
		d.logger.ErrorContext(ctx, "caller directory integrity violation",
			slog.String("external_id", externalID), slog.Int("matches", len(matches)))
	}
	return caller, err
}

func (d *MongoDirectory) Ping(ctx context.Context) error {
	return d.client.Ping(ctx, nil)
}

func (d *MongoDirectory) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}
