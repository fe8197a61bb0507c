package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// BoardStore is the persistence collaborator the relay reads from. It owns
// no board mutation logic; the CRUD layer writes these documents. The relay
// needs it for two things: board-level access checks before a join, and the
// current snapshot a client re-fetches after a reconnect gap (there is no
// event replay).
type BoardStore struct {
	boards *mongo.Collection
}

// BoardSnapshot is the current state of one board as stored by the CRUD
// layer. Columns and cards stay schemaless here.
type BoardSnapshot struct {
	BoardID   string    `bson:"_id" json:"boardId"`
	Title     string    `bson:"title" json:"title"`
	OwnerID   string    `bson:"owner_id" json:"ownerId"`
	MemberIDs []string  `bson:"member_ids" json:"memberIds"`
	Columns   []bson.M  `bson:"columns" json:"columns"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

func NewBoardStore(ctx context.Context, uri, db string) (*BoardStore, error) {
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "boardstore: connect")
	}
	if err := cli.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "boardstore: ping")
	}
	return &BoardStore{boards: cli.Database(db).Collection("boards")}, nil
}

// Snapshot loads the board's current state.
func (s *BoardStore) Snapshot(ctx context.Context, boardID string) (*BoardSnapshot, error) {
	var snap BoardSnapshot
	err := s.boards.FindOne(ctx, bson.M{"_id": boardID}).Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Errorf("boardstore: board %s not found", boardID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "boardstore: snapshot")
	}
	return &snap, nil
}

// UserMayAccess reports whether the user is the owner or a member of the
// board.
func (s *BoardStore) UserMayAccess(ctx context.Context, userID, boardID string) (bool, error) {
	n, err := s.boards.CountDocuments(ctx, bson.M{
		"_id": boardID,
		"$or": []bson.M{
			{"owner_id": userID},
			{"member_ids": userID},
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "boardstore: access check")
	}
	return n > 0, nil
}

func (s *BoardStore) Close(ctx context.Context) error {
	return s.boards.Database().Client().Disconnect(ctx)
}
