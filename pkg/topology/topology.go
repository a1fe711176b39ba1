// Package topology decides, from the storage layout, which lag monitor
// backs each gated target.
package topology

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/block/replgate/pkg/dbconn"
	"github.com/block/replgate/pkg/lagmonitor"
	"gopkg.in/yaml.v3"
)

// Names of the gated targets.
const (
	SyncQueueTarget    = "sync_queue"
	XDBBlobstoreTarget = "xdb_blobstore"
)

const (
	BlobstoreMultiplexed = "multiplexed"
	BlobstoreMySQL       = "mysql"
)

// Storage describes where a repository keeps its data.
type Storage struct {
	Blobstore BlobConfig `yaml:"blobstore"`
}

// BlobConfig is one blobstore. Multiplexed blobstores have a queue database
// and component blobstores; MySQL blobstores are either unsharded (DSN) or
// sharded (Shards, keyed by shard name).
type BlobConfig struct {
	Type       string            `yaml:"type"`
	QueueDB    *DatabaseConfig   `yaml:"queue_db,omitempty"`
	Blobstores []BlobConfig      `yaml:"blobstores,omitempty"`
	DSN        string            `yaml:"dsn,omitempty"`
	Shards     map[string]string `yaml:"shards,omitempty"`
}

// DatabaseConfig is either a remote MySQL database (DSN) or a local one
// (Path). Local databases are not replicated.
type DatabaseConfig struct {
	DSN  string `yaml:"dsn,omitempty"`
	Path string `yaml:"path,omitempty"`
}

func (d *DatabaseConfig) IsRemote() bool {
	return d != nil && d.DSN != ""
}

// LoadStorage loads a storage description from a YAML file.
func LoadStorage(path string) (*Storage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage config: %w", err)
	}
	var storage Storage
	if err := yaml.Unmarshal(data, &storage); err != nil {
		return nil, fmt.Errorf("failed to parse storage config: %w", err)
	}
	return &storage, nil
}

// Connections holds every database opened for the monitors.
type Connections struct {
	dbs []*sql.DB
}

func (c *Connections) Len() int {
	return len(c.dbs)
}

func (c *Connections) Close() error {
	var errs []error
	for _, db := range c.dbs {
		errs = append(errs, db.Close())
	}
	c.dbs = nil
	return errors.Join(errs...)
}

// Factory builds the monitors for a Storage.
type Factory struct {
	DBConfig    *dbconn.DBConfig
	Credentials *Credentials
	// Timeout bounds each monitor's wait. Zero waits until cancelled.
	Timeout time.Duration
	open    func(dsn string, config *dbconn.DBConfig) (*sql.DB, error)
}

func NewFactory(dbConfig *dbconn.DBConfig, creds *Credentials, timeout time.Duration) *Factory {
	if dbConfig == nil {
		dbConfig = dbconn.NewDBConfig()
	}
	return &Factory{
		DBConfig:    dbConfig,
		Credentials: creds,
		Timeout:     timeout,
		open:        dbconn.New,
	}
}

// NewMonitors returns a monitor for every target. Only a multiplexed
// blobstore with a remote queue database is replicated; everything else
// gets Noop monitors. The returned Connections must be closed by the
// caller, also when the monitors are no longer used.
func (f *Factory) NewMonitors(storage *Storage) (map[string]lagmonitor.Monitor, *Connections, error) {
	conns := &Connections{}
	monitors := map[string]lagmonitor.Monitor{
		SyncQueueTarget:    &lagmonitor.Noop{},
		XDBBlobstoreTarget: &lagmonitor.Noop{},
	}
	blob := storage.Blobstore
	if blob.Type != BlobstoreMultiplexed || !blob.QueueDB.IsRemote() {
		return monitors, conns, nil
	}
	queue, err := f.connect(conns, blob.QueueDB.DSN)
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("sync queue: %w", err), conns.Close())
	}
	monitors[SyncQueueTarget] = lagmonitor.NewReplica(SyncQueueTarget, queue, f.Timeout)

	for _, component := range blob.Blobstores {
		if component.Type != BlobstoreMySQL {
			continue
		}
		monitor, err := f.blobstoreMonitor(conns, component)
		if err != nil {
			return nil, nil, errors.Join(fmt.Errorf("xdb blobstore: %w", err), conns.Close())
		}
		monitors[XDBBlobstoreTarget] = monitor
		break
	}
	return monitors, conns, nil
}

func (f *Factory) blobstoreMonitor(conns *Connections, blob BlobConfig) (lagmonitor.Monitor, error) {
	if len(blob.Shards) == 0 {
		db, err := f.connect(conns, blob.DSN)
		if err != nil {
			return nil, err
		}
		return lagmonitor.NewReplica(XDBBlobstoreTarget, db, f.Timeout), nil
	}
	names := make([]string, 0, len(blob.Shards))
	for name := range blob.Shards {
		names = append(names, name)
	}
	sort.Strings(names)
	shards := make(map[string]*sql.DB, len(names))
	for _, name := range names {
		db, err := f.connect(conns, blob.Shards[name])
		if err != nil {
			return nil, fmt.Errorf("shard %s: %w", name, err)
		}
		shards[name] = db
	}
	return lagmonitor.NewSharded(XDBBlobstoreTarget, shards, f.Timeout), nil
}

func (f *Factory) connect(conns *Connections, dsn string) (*sql.DB, error) {
	dsn, err := f.Credentials.Apply(dsn)
	if err != nil {
		return nil, err
	}
	db, err := f.open(dsn, f.DBConfig)
	if err != nil {
		return nil, err
	}
	conns.dbs = append(conns.dbs, db)
	return db, nil
}
