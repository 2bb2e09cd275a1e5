package cache

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"git.sr.ht/~tbpro/tbmail/lib/log"
	"git.sr.ht/~tbpro/tbmail/lib/xdg"
)

// JMAPCache is a key value store for state that survives restarts: the
// session, the mailbox list and the head of every mailbox message list.
// Without a state directory, it is kept in memory only.
type JMAPCache struct {
	mu   sync.Mutex
	mem  map[string][]byte
	file *leveldb.DB
}

// NewJMAPCache opens the persistent cache of an account under the XDG cache
// dir when state is true and falls back to memory on any failure.
func NewJMAPCache(state bool, accountName string) *JMAPCache {
	c := new(JMAPCache)
	cacheDir := xdg.CachePath()
	if state && cacheDir != "" {
		dir := filepath.Join(cacheDir, "tbmail", accountName, "state")
		db, err := openDB(dir)
		if err == nil {
			c.file = db
			return c
		}
		log.Errorf("%s", err)
	}
	c.mem = make(map[string][]byte)
	return c
}

// OpenJMAPCache opens a persistent cache in dir.
func OpenJMAPCache(dir string) (*JMAPCache, error) {
	db, err := openDB(dir)
	if err != nil {
		return nil, err
	}
	return &JMAPCache{file: db}, nil
}

func openDB(dir string) (*leveldb.DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "os.MkdirAll")
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errors.Wrap(err, "leveldb.OpenFile")
	}
	return db, nil
}

func (c *JMAPCache) Close() error {
	if c.file == nil {
		return nil
	}
	return errors.Wrap(c.file.Close(), "leveldb.Close")
}

var notfound = errors.New("key not found")

// IsNotFound reports whether err means the key was never stored.
func IsNotFound(err error) bool {
	return errors.Is(err, notfound) || errors.Is(err, leveldb.ErrNotFound)
}

func (c *JMAPCache) get(key string) ([]byte, error) {
	if c.file != nil {
		return c.file.Get([]byte(key), nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.mem[key]
	if !ok {
		return nil, notfound
	}
	return value, nil
}

func (c *JMAPCache) put(key string, value []byte) error {
	if c.file != nil {
		return c.file.Put([]byte(key), value, nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem[key] = value
	return nil
}

func (c *JMAPCache) delete(key string) error {
	if c.file != nil {
		return c.file.Delete([]byte(key), nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.mem, key)
	return nil
}

func (c *JMAPCache) purge(prefix string) error {
	if c.file == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		for key := range c.mem {
			if strings.HasPrefix(key, prefix) {
				delete(c.mem, key)
			}
		}
		return nil
	}
	txn, err := c.file.OpenTransaction()
	if err != nil {
		return errors.Wrap(err, "OpenTransaction")
	}
	iter := txn.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	for iter.Next() {
		err = txn.Delete(iter.Key(), nil)
		if err != nil {
			break
		}
	}
	iter.Release()
	if err != nil {
		txn.Discard()
		return errors.Wrap(err, "purge")
	}
	return txn.Commit()
}
