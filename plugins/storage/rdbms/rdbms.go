// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package rdbms implements a storage engine which stores harness
// information in a relational database via the database/sql package. Only
// MySQL is officially supported.
package rdbms

import (
	"database/sql"
	"sync"
	"time"

	"github.com/devicelab/harness/pkg/logging"
	"github.com/devicelab/harness/pkg/storage"

	// this blank import registers the mysql driver
	_ "github.com/go-sql-driver/mysql"
)

var log = logging.GetLogger("plugin/storage/rdbms")

const defaultFlushSize int = 64
const defaultFlushInterval time.Duration = 5 * time.Second

// RDBMS implements the storage engine. Events are buffered internally and
// flushed to the database when the buffer fills up or on a fixed interval.
// Prepared statements are deliberately not used, not every MySQL connector
// implementing database/sql supports them.
type RDBMS struct {
	driverName string
	dbURI      string
	db         *sql.DB

	initOnce *sync.Once

	eventsLock *sync.Mutex
	buffEvents []bufferedEvent

	eventsFlushSize     int
	eventsFlushInterval time.Duration
}

func (r *RDBMS) init() error {
	initFunc := func() error {
		driverName := "mysql"
		if r.driverName != "" {
			driverName = r.driverName
		}
		db, err := sql.Open(driverName, r.dbURI)
		if err != nil {
			return err
		}
		r.db = db
		// Background goroutine flushing pending events. Its lifetime
		// corresponds to the lifetime of the framework.
		go func() {
			for {
				time.Sleep(r.eventsFlushInterval)
				r.FlushEvents()
			}
		}()
		return nil
	}
	var initErr error
	r.initOnce.Do(func() {
		initErr = initFunc()
	})
	return initErr
}

// Version returns the version of the schema the engine was built against.
func (r *RDBMS) Version() (uint64, error) {
	if err := r.init(); err != nil {
		return 0, err
	}
	var version uint64
	row := r.db.QueryRow("select max(version) from migrations")
	if err := row.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// Close flushes the buffers and closes the database connection.
func (r *RDBMS) Close() error {
	r.FlushEvents()
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Opt is a function type that sets parameters on the RDBMS object
type Opt func(rdbms *RDBMS)

// EventsFlushSize defines the maximum size of the events buffer after which
// events are flushed to the database.
func EventsFlushSize(flushSize int) Opt {
	return func(rdbms *RDBMS) {
		rdbms.eventsFlushSize = flushSize
	}
}

// EventsFlushInterval defines the interval at which buffered events are
// stored into the database
func EventsFlushInterval(flushInterval time.Duration) Opt {
	return func(rdbms *RDBMS) {
		rdbms.eventsFlushInterval = flushInterval
	}
}

// DriverName allows using a mysql-compatible driver (e.g. a wrapper around
// mysql or a syntax-compatible variant).
func DriverName(name string) Opt {
	return func(rdbms *RDBMS) {
		rdbms.driverName = name
	}
}

// New creates a RDBMS storage backend with default parameters
func New(dbURI string, opts ...Opt) storage.Storage {
	backend := RDBMS{
		dbURI:               dbURI,
		initOnce:            &sync.Once{},
		eventsLock:          &sync.Mutex{},
		eventsFlushSize:     defaultFlushSize,
		eventsFlushInterval: defaultFlushInterval,
	}
	for _, opt := range opts {
		opt(&backend)
	}
	return &backend
}
