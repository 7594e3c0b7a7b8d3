package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/balticlsc/balticlsc-module/pkg/config/configstore"
)

// Ensure MongoStore implements the ConfigStore interface
var _ configstore.ConfigStore = (*MongoStore)(nil)

const opTimeout = 10 * time.Second

// MongoStore keeps the document under the "data" field of the record whose
// _id is ID: {"_id": "<module>", "data": [...]}.
type MongoStore struct {
	Client     *mongo.Client
	Collection *mongo.Collection
	ID         string
}

func New(uri, dbName, collName, id string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoStore{
		Client:     client,
		Collection: client.Database(dbName).Collection(collName),
		ID:         id,
	}, nil
}

// Load decodes the "data" field into out. The value goes through relaxed
// extended JSON so nested documents come back as plain maps, exactly as
// they would from a JSON file.
func (m *MongoStore) Load(out any) error {
	if out == nil {
		return fmt.Errorf("Load: output parameter must not be nil")
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res := m.Collection.FindOne(ctx, bson.M{"_id": m.ID})
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("document with ID %q not found", m.ID)
		}
		return fmt.Errorf("MongoDB FindOne failed: %w", err)
	}
	raw, err := res.Raw()
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}
	return decodeData(raw, out)
}

func decodeData(raw bson.Raw, out any) error {
	data, err := raw.LookupErr("data")
	if err != nil {
		return fmt.Errorf("document has no data field: %w", err)
	}
	ext, err := bson.MarshalExtJSON(bson.D{{Key: "data", Value: data}}, false, false)
	if err != nil {
		return fmt.Errorf("failed to convert document: %w", err)
	}
	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(ext, &wrapper); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	if err := json.Unmarshal(wrapper.Data, out); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}

var ErrWatchUnsupported = errors.New("watch is not supported by the MongoDB store")

func (m *MongoStore) Watch(onChange func()) error {
	return ErrWatchUnsupported
}

// Close disconnects the underlying client.
func (m *MongoStore) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
