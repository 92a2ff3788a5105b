package aggregate

import (
	"sync"
	"time"

	"github.com/voltmon/energy-usage-worker/internal/model"
)

const shardCount = 64

type bucketKey struct {
	userID    int64
	hourStart int64
}

type shard struct {
	mu      sync.Mutex
	buckets map[bucketKey]*model.UserHourBucket
}

// BucketStore holds the live per-user hour buckets. Mutation goes
// through Accumulate only; everything else reads copies. Shard-level
// locking keeps concurrent partitions for the same user from losing
// updates without serializing unrelated users behind one lock.
type BucketStore struct {
	shards [shardCount]shard
}

// NewBucketStore creates an empty bucket store.
func NewBucketStore() *BucketStore {
	s := &BucketStore{}
	for i := range s.shards {
		s.shards[i].buckets = make(map[bucketKey]*model.UserHourBucket)
	}
	return s
}

func (s *BucketStore) shardFor(key bucketKey) *shard {
	h := uint64(key.userID)*31 + uint64(key.hourStart)
	return &s.shards[h%shardCount]
}

// Accumulate adds a reading's consumption to the (user, hour) bucket,
// creating it if absent, and returns a copy of the updated bucket.
func (s *BucketStore) Accumulate(userID int64, hourStart time.Time, energyConsumed float64) model.UserHourBucket {
	key := bucketKey{userID: userID, hourStart: hourStart.Unix()}
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	bucket, ok := sh.buckets[key]
	if !ok {
		bucket = &model.UserHourBucket{UserID: userID, HourStart: hourStart}
		sh.buckets[key] = bucket
	}

	bucket.ConsumedTotal += energyConsumed
	bucket.ReadingCount++

	return *bucket
}

// Prime seeds recovered buckets without clobbering any bucket that has
// already accumulated live readings.
func (s *BucketStore) Prime(buckets []model.UserHourBucket) {
	for _, b := range buckets {
		key := bucketKey{userID: b.UserID, hourStart: b.HourStart.Unix()}
		sh := s.shardFor(key)

		sh.mu.Lock()
		if _, ok := sh.buckets[key]; !ok {
			recovered := b
			sh.buckets[key] = &recovered
		}
		sh.mu.Unlock()
	}
}

// SnapshotHour returns copies of every bucket in one hour window,
// keyed by user. Readers never see a bucket mid-update, though a
// snapshot may trail writes that land while it is being taken.
func (s *BucketStore) SnapshotHour(hourStart time.Time) map[int64]model.UserHourBucket {
	hour := hourStart.Unix()
	snapshot := make(map[int64]model.UserHourBucket)

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, bucket := range sh.buckets {
			if key.hourStart == hour {
				snapshot[key.userID] = *bucket
			}
		}
		sh.mu.Unlock()
	}

	return snapshot
}

// EvictBefore drops buckets whose hour started before the cutoff and
// returns how many were removed. Historical totals stay queryable
// through the time-series store and the bucket checkpoints.
func (s *BucketStore) EvictBefore(cutoff time.Time) int {
	limit := cutoff.Unix()
	evicted := 0

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key := range sh.buckets {
			if key.hourStart < limit {
				delete(sh.buckets, key)
				evicted++
			}
		}
		sh.mu.Unlock()
	}

	return evicted
}
