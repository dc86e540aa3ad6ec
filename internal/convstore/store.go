// Package convstore is the server-authoritative record of messages per
// conversation, backed by pebble. Append order is the authoritative
// order; every mutating operation on one conversation is serialized by
// a per-conversation lock while distinct conversations proceed in
// parallel.
package convstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/mataid/matchat/internal/model"
)

const lockShards = 64

// Store owns the message log.
// Keys:
//
//	conv:<id>:msg:<seq20>   -> Message JSON, seq zero-padded so byte
//	                           order equals append order
//	convidx:<id>:<msgId>    -> the msg key, for dedup and deletion
//	convseq:<id>            -> last assigned sequence number
type Store struct {
	db     *pebble.DB
	logger *zap.Logger
	locks  [lockShards]sync.Mutex
}

// New creates a store over an opened pebble database.
func New(db *pebble.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) lock(conversationID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	mu := &s.locks[h.Sum32()%lockShards]
	mu.Lock()
	return mu.Unlock
}

func msgPrefix(conversationID string) string {
	return "conv:" + conversationID + ":msg:"
}

func msgKey(conversationID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", msgPrefix(conversationID), seq))
}

func idxKey(conversationID, msgID string) []byte {
	return []byte("convidx:" + conversationID + ":" + msgID)
}

func seqKey(conversationID string) []byte {
	return []byte("convseq:" + conversationID)
}

// keyUpperBound returns the smallest key greater than every key with
// the given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Append stores a message at the tail of its conversation. A message
// whose id already exists in the conversation is discarded with a log;
// this is the server-side half of dedup.
func (s *Store) Append(msg model.Message) error {
	if msg.ID == "" || msg.ConversationID == "" {
		return fmt.Errorf("append: message id and conversation id are required")
	}
	unlock := s.lock(msg.ConversationID)
	defer unlock()

	_, closer, err := s.db.Get(idxKey(msg.ConversationID, msg.ID))
	if err == nil {
		_ = closer.Close()
		duplicateAppends.Inc()
		s.logger.Info("discarding duplicate append",
			zap.String("conversation", msg.ConversationID),
			zap.String("msg_id", msg.ID))
		return nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("check dedup index: %w", err)
	}

	seq, err := s.nextSeq(msg.ConversationID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := msgKey(msg.ConversationID, seq)
	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()
	if err := batch.Set(key, data, nil); err != nil {
		return fmt.Errorf("batch message: %w", err)
	}
	if err := batch.Set(idxKey(msg.ConversationID, msg.ID), key, nil); err != nil {
		return fmt.Errorf("batch index: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	messagesAppended.Inc()
	return nil
}

// List returns the conversation's messages in append order. A
// conversation with no messages yields an empty slice.
func (s *Store) List(conversationID string) ([]model.Message, error) {
	unlock := s.lock(conversationID)
	defer unlock()
	return s.listLocked(conversationID)
}

func (s *Store) listLocked(conversationID string) ([]model.Message, error) {
	prefix := []byte(msgPrefix(conversationID))
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	defer func() { _ = iter.Close() }()

	var msgs []model.Message
	for iter.First(); iter.Valid(); iter.Next() {
		var m model.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			s.logger.Warn("skipping undecodable message record", zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, iter.Error()
}

// MarkRead flips read=true on every message in the conversation not
// sent by readerID. Runs under the conversation lock, so it cannot
// interleave with a concurrent Append or Delete on the same
// conversation.
func (s *Store) MarkRead(conversationID, readerID string) error {
	unlock := s.lock(conversationID)
	defer unlock()

	prefix := []byte(msgPrefix(conversationID))
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("iterate messages: %w", err)
	}
	defer func() { _ = iter.Close() }()

	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()
	flipped := 0
	for iter.First(); iter.Valid(); iter.Next() {
		var m model.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.SenderID == readerID || m.Read {
			continue
		}
		m.Read = true
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		if err := batch.Set(key, data, nil); err != nil {
			return fmt.Errorf("batch read flag: %w", err)
		}
		flipped++
	}
	if err := iter.Error(); err != nil {
		return err
	}
	if flipped == 0 {
		return nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit mark read: %w", err)
	}
	messagesMarkedRead.Add(float64(flipped))
	return nil
}

// Delete removes a message from the authoritative list. Returns
// whether a removal occurred; deleting an absent id is not an error.
func (s *Store) Delete(conversationID, messageID string) (bool, error) {
	unlock := s.lock(conversationID)
	defer unlock()

	ik := idxKey(conversationID, messageID)
	val, closer, err := s.db.Get(ik)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup message: %w", err)
	}
	key := make([]byte, len(val))
	copy(key, val)
	_ = closer.Close()

	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()
	if err := batch.Delete(key, nil); err != nil {
		return false, fmt.Errorf("batch delete message: %w", err)
	}
	if err := batch.Delete(ik, nil); err != nil {
		return false, fmt.Errorf("batch delete index: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	messagesDeleted.Inc()
	return true, nil
}

// nextSeq increments the conversation's sequence counter. Caller holds
// the conversation lock.
func (s *Store) nextSeq(conversationID string) (uint64, error) {
	var seq uint64
	val, closer, err := s.db.Get(seqKey(conversationID))
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return 0, fmt.Errorf("read sequence: %w", err)
	default:
		seq, _ = strconv.ParseUint(string(val), 10, 64)
		_ = closer.Close()
	}
	seq++
	if err := s.db.Set(seqKey(conversationID), []byte(strconv.FormatUint(seq, 10)), pebble.Sync); err != nil {
		return 0, fmt.Errorf("write sequence: %w", err)
	}
	return seq, nil
}
