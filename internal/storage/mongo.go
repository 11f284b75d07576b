// Package storage provides document persistence on MongoDB.
package storage

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"

	"github.com/keygrove/keyserver/internal/config"
	"github.com/keygrove/keyserver/internal/logging"
)

// DB wraps a MongoDB session. It is a process-wide singleton, dialed once
// at startup and closed on shutdown.
type DB struct {
	session  *mgo.Session
	database string
	log      zerolog.Logger
}

// Connect dials MongoDB and verifies the connection.
func Connect(cfg config.Mongo) (*DB, error) {
	uri := cfg.URI
	if cfg.User != "" {
		uri = fmt.Sprintf("%s:%s@%s", cfg.User, cfg.Pass, cfg.URI)
	}
	session, err := mgo.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	session.SetMode(mgo.Monotonic, true)
	session.SetSafe(&mgo.Safe{})

	database := cfg.Database
	if database == "" {
		if i := strings.LastIndex(cfg.URI, "/"); i >= 0 && i < len(cfg.URI)-1 {
			database = cfg.URI[i+1:]
		}
	}

	return &DB{
		session:  session,
		database: database,
		log:      logging.WithComponent("storage"),
	}, nil
}

// Close shuts the underlying session down.
func (d *DB) Close() {
	d.session.Close()
}

// Ping verifies the server is reachable.
func (d *DB) Ping() error {
	return d.session.Ping()
}

// C returns a handle for the named collection.
func (d *DB) C(name string) *Collection {
	return &Collection{db: d, name: name}
}

// Collection is a thin abstraction over one MongoDB collection. Each
// operation runs on its own copy of the session so concurrent requests do
// not serialize on a single socket.
type Collection struct {
	db   *DB
	name string
}

func (c *Collection) with(fn func(col *mgo.Collection) error) error {
	s := c.db.session.Copy()
	defer s.Close()
	return fn(s.DB(c.db.database).C(c.name))
}

// EnsureIndexes creates the given indexes if they do not exist.
func (c *Collection) EnsureIndexes(indexes []mgo.Index) error {
	return c.with(func(col *mgo.Collection) error {
		for _, idx := range indexes {
			if err := col.EnsureIndex(idx); err != nil {
				return fmt.Errorf("failed to ensure index %v: %w", idx.Key, err)
			}
		}
		return nil
	})
}

// Insert stores one or more documents.
func (c *Collection) Insert(docs ...interface{}) error {
	return c.with(func(col *mgo.Collection) error {
		return col.Insert(docs...)
	})
}

// Update applies a $set document to the first document matching the
// filter. Positional array assignments ("userIds.$.field") address the
// array element selected by the filter.
func (c *Collection) Update(filter, set bson.M) error {
	return c.with(func(col *mgo.Collection) error {
		return col.Update(filter, bson.M{"$set": set})
	})
}

// FindOne decodes the first document matching the filter into result.
// Returns mgo.ErrNotFound when nothing matches.
func (c *Collection) FindOne(filter bson.M, result interface{}) error {
	return c.with(func(col *mgo.Collection) error {
		return col.Find(filter).One(result)
	})
}

// Find decodes all documents matching the filter into result.
func (c *Collection) Find(filter bson.M, result interface{}) error {
	return c.with(func(col *mgo.Collection) error {
		return col.Find(filter).All(result)
	})
}

// Count returns the number of documents matching the filter.
func (c *Collection) Count(filter bson.M) (int, error) {
	var n int
	err := c.with(func(col *mgo.Collection) error {
		var err error
		n, err = col.Find(filter).Count()
		return err
	})
	return n, err
}

// DeleteMany removes every document matching the filter.
func (c *Collection) DeleteMany(filter bson.M) error {
	return c.with(func(col *mgo.Collection) error {
		_, err := col.RemoveAll(filter)
		return err
	})
}

// ReplaceOne overwrites the first document matching the filter.
func (c *Collection) ReplaceOne(filter bson.M, doc interface{}) error {
	return c.with(func(col *mgo.Collection) error {
		return col.Update(filter, doc)
	})
}

// Aggregate runs a pipeline and decodes all results.
func (c *Collection) Aggregate(pipeline []bson.M, result interface{}) error {
	return c.with(func(col *mgo.Collection) error {
		return col.Pipe(pipeline).All(result)
	})
}
