// Package identity maintains the registered users and the symmetric
// connection relation between them, backed by pebble.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/mataid/matchat/internal/apperr"
	"github.com/mataid/matchat/internal/model"
)

const lockShards = 32

// Graph owns user records and per-user adjacency sets.
// Keys: user:<id> -> User JSON, conn:<id> -> sorted []string JSON.
type Graph struct {
	db     *pebble.DB
	logger *zap.Logger
	locks  [lockShards]sync.Mutex
}

// NewGraph creates a graph over an opened pebble database.
func NewGraph(db *pebble.DB, logger *zap.Logger) *Graph {
	return &Graph{db: db, logger: logger}
}

func userKey(id string) []byte { return []byte("user:" + id) }
func connKey(id string) []byte { return []byte("conn:" + id) }

func shard(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % lockShards)
}

// lockPair acquires the shard locks for two users in deterministic
// order so concurrent Connect/Disconnect calls cannot deadlock.
func (g *Graph) lockPair(a, b string) func() {
	sa, sb := shard(a), shard(b)
	if sa == sb {
		g.locks[sa].Lock()
		return g.locks[sa].Unlock
	}
	if sa > sb {
		sa, sb = sb, sa
	}
	g.locks[sa].Lock()
	g.locks[sb].Lock()
	return func() {
		g.locks[sb].Unlock()
		g.locks[sa].Unlock()
	}
}

// Register stores a user record. Overwrites profile fields on repeat
// registration of the same id.
func (g *Graph) Register(u model.User) error {
	if u.ID == "" || u.Name == "" {
		return apperr.Validation("user id and name are required")
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := g.db.Set(userKey(u.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	return nil
}

// Get returns the user with the given id.
func (g *Graph) Get(id string) (*model.User, error) {
	val, closer, err := g.db.Get(userKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, &apperr.NotFoundError{Entity: "user", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	defer func() { _ = closer.Close() }()

	var u model.User
	if err := json.Unmarshal(val, &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", id, err)
	}
	return &u, nil
}

// List returns all registered users sorted by id.
func (g *Graph) List() ([]model.User, error) {
	iter, err := g.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("user:"),
		UpperBound: []byte("user;"),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	defer func() { _ = iter.Close() }()

	var users []model.User
	for iter.First(); iter.Valid(); iter.Next() {
		var u model.User
		if err := json.Unmarshal(iter.Value(), &u); err != nil {
			g.logger.Warn("skipping undecodable user record", zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		users = append(users, u)
	}
	return users, iter.Error()
}

// Search returns users matching the query as a case-insensitive
// substring of name, institution or department, excluding excludeID.
func (g *Graph) Search(query, excludeID string) ([]model.User, error) {
	if query == "" {
		return nil, nil
	}
	all, err := g.List()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var matched []model.User
	for _, u := range all {
		if u.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Name), q) ||
			strings.Contains(strings.ToLower(u.Institution), q) ||
			strings.Contains(strings.ToLower(u.Department), q) {
			matched = append(matched, u)
		}
	}
	return matched, nil
}

// Connect establishes the symmetric connection between a and b.
// Idempotent. Self-connections are rejected.
func (g *Graph) Connect(a, b string) error {
	if a == b {
		return apperr.Validation("cannot connect user %q to itself", a)
	}
	if a == "" || b == "" {
		return apperr.Validation("both user ids are required")
	}
	unlock := g.lockPair(a, b)
	defer unlock()

	if err := g.addEdge(a, b); err != nil {
		return err
	}
	return g.addEdge(b, a)
}

// Disconnect removes both directed edges. Idempotent even if only one
// side existed.
func (g *Graph) Disconnect(a, b string) error {
	unlock := g.lockPair(a, b)
	defer unlock()

	if err := g.removeEdge(a, b); err != nil {
		return err
	}
	return g.removeEdge(b, a)
}

// ConnectionsOf returns the adjacency set of userID, sorted.
func (g *Graph) ConnectionsOf(userID string) ([]string, error) {
	return g.readAdjacency(userID)
}

// ConnectedUsers resolves the adjacency set to user records, skipping
// ids with no surviving account.
func (g *Graph) ConnectedUsers(userID string) ([]model.User, error) {
	ids, err := g.readAdjacency(userID)
	if err != nil {
		return nil, err
	}
	var users []model.User
	for _, id := range ids {
		u, err := g.Get(id)
		if apperr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, nil
}

// Remove deletes a user account and withdraws it from every adjacency
// set it appears in.
func (g *Graph) Remove(userID string) error {
	ids, err := g.readAdjacency(userID)
	if err != nil {
		return err
	}
	for _, peer := range ids {
		if err := g.Disconnect(userID, peer); err != nil {
			return err
		}
	}
	if err := g.db.Delete(connKey(userID), pebble.Sync); err != nil {
		return fmt.Errorf("delete adjacency: %w", err)
	}
	if err := g.db.Delete(userKey(userID), pebble.Sync); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (g *Graph) addEdge(from, to string) error {
	ids, err := g.readAdjacency(from)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == to {
			return nil
		}
	}
	ids = append(ids, to)
	sort.Strings(ids)
	return g.writeAdjacency(from, ids)
}

func (g *Graph) removeEdge(from, to string) error {
	ids, err := g.readAdjacency(from)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, id := range ids {
		if id != to {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(ids) {
		return nil
	}
	return g.writeAdjacency(from, kept)
}

func (g *Graph) readAdjacency(userID string) ([]string, error) {
	val, closer, err := g.db.Get(connKey(userID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read adjacency: %w", err)
	}
	defer func() { _ = closer.Close() }()

	var ids []string
	if err := json.Unmarshal(val, &ids); err != nil {
		return nil, fmt.Errorf("decode adjacency %s: %w", userID, err)
	}
	return ids, nil
}

func (g *Graph) writeAdjacency(userID string, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal adjacency: %w", err)
	}
	if err := g.db.Set(connKey(userID), data, pebble.Sync); err != nil {
		return fmt.Errorf("write adjacency: %w", err)
	}
	return nil
}
