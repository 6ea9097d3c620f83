package store

import (
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
)

const (
	pasteKeyPrefix = "mystbin_paste_"
	tokenKeyPrefix = "mystbin_token_"
	viewsKeyPrefix = "mystbin_views_"
	ownerKeyPrefix = "mystbin_owner_"
)

// RedisStore implements Store using Redis. Pastes without an expiry are
// kept for the store's default TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a new Redis-backed store and verifies connectivity.
func NewRedis(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping().Result(); err != nil {
		return nil, err
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
	}, nil
}

// View retrieves a paste by ID and increments its view counter.
func (s *RedisStore) View(id string) (*Record, error) {
	val, err := s.client.Get(pasteKeyPrefix + id).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, err
	}

	views, err := s.client.Incr(viewsKeyPrefix + id).Result()
	if err != nil {
		return nil, err
	}
	s.client.Expire(viewsKeyPrefix+id, s.ttlFor(&rec))
	rec.Views = int(views)
	return &rec, nil
}

// Create stores a paste using SetNX (atomic set-if-not-exists).
// Returns true if the paste was created, false if the ID already exists.
func (s *RedisStore) Create(rec *Record) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}

	ttl := s.ttlFor(rec)
	ok, err := s.client.SetNX(pasteKeyPrefix+rec.ID, data, ttl).Result()
	if err != nil || !ok {
		return false, err
	}

	if err := s.client.Set(tokenKeyPrefix+rec.SecurityToken, rec.ID, ttl).Err(); err != nil {
		// Without its token the paste could never be deleted
		s.client.Del(pasteKeyPrefix + rec.ID)
		return false, err
	}
	if rec.Owner != "" {
		if err := s.client.SAdd(ownerKeyPrefix+rec.Owner, rec.ID).Err(); err != nil {
			s.client.Del(pasteKeyPrefix+rec.ID, tokenKeyPrefix+rec.SecurityToken)
			return false, err
		}
	}
	return true, nil
}

// DeleteByToken removes the paste issued with token.
func (s *RedisStore) DeleteByToken(token string) error {
	id, err := s.client.Get(tokenKeyPrefix + token).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return s.client.Del(pasteKeyPrefix+id, viewsKeyPrefix+id, tokenKeyPrefix+token).Err()
}

// ListByOwner returns the owner's live pastes. Expired ids are pruned from
// the owner's set as they are found.
func (s *RedisStore) ListByOwner(owner string) ([]*Record, error) {
	ids, err := s.client.SMembers(ownerKeyPrefix + owner).Result()
	if err != nil {
		return nil, err
	}

	var out []*Record
	for _, id := range ids {
		val, err := s.client.Get(pasteKeyPrefix + id).Result()
		if err == redis.Nil {
			s.client.SRem(ownerKeyPrefix+owner, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			return nil, err
		}
		if n, err := s.client.Get(viewsKeyPrefix + id).Int64(); err == nil {
			rec.Views = int(n)
		}
		out = append(out, &rec)
	}
	sortByCreated(out)
	return out, nil
}

func (s *RedisStore) ttlFor(rec *Record) time.Duration {
	if rec.Expires != nil {
		if d := time.Until(*rec.Expires); d > 0 {
			return d
		}
		return time.Second
	}
	return s.ttl
}
