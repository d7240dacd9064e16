package memdb

import (
	"sync"
	"time"

	"github.com/kubellm/kubellm/internal/key"
	"github.com/kubellm/kubellm/internal/telemetry"
	"go.uber.org/zap"
)

type Storage interface {
	GetAllKeys() ([]*key.VirtualKey, error)
	GetUpdatedKeys(updatedAt int64) ([]*key.VirtualKey, error)
}

// MemDb keeps a hash indexed copy of the provisioned virtual keys so
// authentication stays an in-memory lookup. It refreshes from the
// external store on an interval, picking up revocations and policy
// updates without redeploys.
type MemDb struct {
	external       Storage
	lastUpdated    int64
	hashToKeys     map[string]*key.VirtualKey
	hashToKeysLock sync.RWMutex
	done           chan bool
	interval       time.Duration
	log            *zap.Logger
}

func NewMemDb(ex Storage, log *zap.Logger, interval time.Duration) (*MemDb, error) {
	hashToKeys := map[string]*key.VirtualKey{}

	keys, err := ex.GetAllKeys()
	if err != nil {
		return nil, err
	}

	var latest int64 = -1
	for _, k := range keys {
		hashToKeys[k.Key] = k
		if k.UpdatedAt > latest {
			latest = k.UpdatedAt
		}
	}

	return &MemDb{
		external:    ex,
		hashToKeys:  hashToKeys,
		log:         log,
		lastUpdated: latest,
		interval:    interval,
		done:        make(chan bool),
	}, nil
}

func (mdb *MemDb) GetKey(hash string) *key.VirtualKey {
	mdb.hashToKeysLock.RLock()
	defer mdb.hashToKeysLock.RUnlock()

	k, ok := mdb.hashToKeys[hash]
	if ok {
		return k
	}

	return nil
}

func (mdb *MemDb) SetKey(k *key.VirtualKey) {
	mdb.hashToKeysLock.Lock()
	defer mdb.hashToKeysLock.Unlock()

	mdb.hashToKeys[k.Key] = k
}

func (mdb *MemDb) RemoveKey(k *key.VirtualKey) {
	mdb.hashToKeysLock.Lock()
	defer mdb.hashToKeysLock.Unlock()

	delete(mdb.hashToKeys, k.Key)
}

func (mdb *MemDb) Listen() {
	ticker := time.NewTicker(mdb.interval)
	mdb.log.Info("memdb started listening for key updates")

	go func() {
		lastUpdated := mdb.lastUpdated
		for {
			select {
			case <-mdb.done:
				mdb.log.Info("memdb stopped")
				return
			case <-ticker.C:
				keys, err := mdb.external.GetUpdatedKeys(lastUpdated)
				if err != nil {
					telemetry.Incr("kubellm.memdb.listen.get_updated_keys_error", nil, 1)

					mdb.log.Sugar().Debugf("memdb failed to update keys: %v", err)
					continue
				}

				if len(keys) == 0 {
					continue
				}

				numberOfUpdated := 0
				for _, k := range keys {
					if k.UpdatedAt > lastUpdated {
						lastUpdated = k.UpdatedAt
					}

					existing := mdb.GetKey(k.Key)
					if existing == nil || k.UpdatedAt > existing.UpdatedAt {
						numberOfUpdated += 1
						mdb.SetKey(k)
					}
				}

				mdb.log.Sugar().Debugf("key memdb updated at %d with %d keys", lastUpdated, numberOfUpdated)
			}
		}
	}()
}

func (mdb *MemDb) Stop() {
	mdb.log.Info("shutting down memdb...")

	mdb.done <- true
}
