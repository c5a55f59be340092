// Package mongo stores log documents in MongoDB. It is the only backend with
// capped collections, native expiry indexes and tailable cursors.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/superlogger/superlogger/pkg/store"
)

const (
	defaultDatabase    = "superlogger"
	namespaceExistsErr = 48
)

// Options are the driver level connection parameters.
type Options struct {
	Database       string
	MaxPoolSize    uint64
	ConnectTimeout time.Duration
}

type Database struct {
	client *mongo.Client
	db     *mongo.Database
}

// Dial connects to uri and verifies the connection with a ping.
func Dial(ctx context.Context, uri string, opts Options) (*Database, error) {
	clientOpts := options.Client().ApplyURI(uri)
	if opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(opts.MaxPoolSize)
	}
	if opts.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(opts.ConnectTimeout)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	name := opts.Database
	if name == "" {
		name = databaseFromURI(uri)
	}
	return Wrap(client, name), nil
}

// Wrap uses an already connected client.
func Wrap(client *mongo.Client, database string) *Database {
	if database == "" {
		database = defaultDatabase
	}
	return &Database{client: client, db: client.Database(database)}
}

func databaseFromURI(uri string) string {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil || cs.Database == "" {
		return defaultDatabase
	}
	return cs.Database
}

func (d *Database) EnsureCollection(ctx context.Context, name string, opts store.CollectionOptions) error {
	names, err := d.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	if len(names) > 0 {
		return nil
	}

	createOpts := options.CreateCollection()
	if opts.Capped {
		createOpts.SetCapped(true).SetSizeInBytes(opts.SizeBytes)
		if opts.MaxDocuments > 0 {
			createOpts.SetMaxDocuments(opts.MaxDocuments)
		}
	}
	err = d.db.CreateCollection(ctx, name, createOpts)
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == namespaceExistsErr {
		return nil
	}
	return err
}

func (d *Database) Collection(name string) store.Collection {
	return &Collection{db: d.db, coll: d.db.Collection(name)}
}

func (d *Database) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// IsStoreError reports whether err came from the server or the connection to it.
func IsStoreError(err error) bool {
	if err == nil {
		return false
	}
	var serverErr mongo.ServerError
	return errors.As(err, &serverErr) || mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}
