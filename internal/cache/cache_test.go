package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mataid/matchat/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testMessage(id, conv, sender string, ts time.Time) *model.Message {
	return &model.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       sender,
		ReceiverID:     "peer",
		Content:        "hello " + id,
		Type:           model.TypeText,
		Timestamp:      ts,
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ts := time.Now().UTC().Truncate(time.Millisecond)
	m := testMessage("m1", "a-b", "a", ts)

	for i := 0; i < 3; i++ {
		if err := db.UpsertMessage(m, false); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	msgs, err := db.ListMessages("a-b")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Content != "hello m1" {
		t.Errorf("unexpected content %q", msgs[0].Content)
	}
}

func TestListOrdersByTimestamp(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().UTC().Truncate(time.Millisecond)

	// Insert out of order.
	for _, tc := range []struct {
		id  string
		off time.Duration
	}{
		{"m3", 2 * time.Second},
		{"m1", 0},
		{"m2", time.Second},
	} {
		if err := db.UpsertMessage(testMessage(tc.id, "a-b", "a", base.Add(tc.off)), false); err != nil {
			t.Fatalf("upsert %s: %v", tc.id, err)
		}
	}
	msgs, err := db.ListMessages("a-b")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"m1", "m2", "m3"}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, msgs[i].ID)
		}
	}
}

func TestAttachmentRoundTrip(t *testing.T) {
	db := openTestDB(t)
	m := testMessage("m1", "a-b", "a", time.Now().UTC().Truncate(time.Millisecond))
	m.Type = model.TypeMaterial
	m.Attachment = &model.Material{
		Name:     "Graphene",
		Category: "2D materials",
		Properties: map[string]string{
			"band_gap": "0 eV",
		},
	}
	if err := db.UpsertMessage(m, false); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	msgs, err := db.ListMessages("a-b")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Attachment == nil {
		t.Fatalf("expected one message with attachment, got %+v", msgs)
	}
	got := msgs[0].Attachment
	if got.Name != "Graphene" || got.Properties["band_gap"] != "0 eV" {
		t.Errorf("attachment mangled: %+v", got)
	}
}

func TestTombstoneHidesMessage(t *testing.T) {
	db := openTestDB(t)
	ts := time.Now().UTC().Truncate(time.Millisecond)
	if err := db.UpsertMessage(testMessage("m1", "a-b", "a", ts), false); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := db.AddTombstone("a-b", "m1"); err != nil {
		t.Fatalf("tombstone: %v", err)
	}

	msgs, err := db.ListMessages("a-b")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("tombstoned message still listed: %+v", msgs)
	}

	// A stale re-delivery of the deleted id stays hidden.
	if err := db.UpsertMessage(testMessage("m1", "a-b", "a", ts), false); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	msgs, err = db.ListMessages("a-b")
	if err != nil {
		t.Fatalf("list after re-upsert: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("tombstone did not suppress re-delivery: %+v", msgs)
	}

	dead, err := db.IsTombstoned("a-b", "m1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !dead {
		t.Error("expected m1 tombstoned")
	}
}

func TestReplaceKeepsPendingMessages(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().UTC().Truncate(time.Millisecond)

	if err := db.UpsertMessage(testMessage("confirmed-old", "a-b", "b", base), false); err != nil {
		t.Fatalf("upsert confirmed: %v", err)
	}
	if err := db.UpsertMessage(testMessage("offline-1", "a-b", "a", base.Add(time.Second)), true); err != nil {
		t.Fatalf("upsert pending: %v", err)
	}

	// Server list no longer contains confirmed-old; it was deleted
	// elsewhere. It also has a message we have not seen yet.
	server := []model.Message{
		*testMessage("server-new", "a-b", "b", base.Add(2*time.Second)),
	}
	if err := db.ReplaceMessages("a-b", server); err != nil {
		t.Fatalf("replace: %v", err)
	}

	msgs, err := db.ListMessages("a-b")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ids := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		ids[m.ID] = true
	}
	if ids["confirmed-old"] {
		t.Error("confirmed row survived replace")
	}
	if !ids["offline-1"] {
		t.Error("pending row lost in replace")
	}
	if !ids["server-new"] {
		t.Error("server row missing after replace")
	}

	pending, err := db.PendingMessages("a-b")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "offline-1" {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
}

func TestReplaceConfirmsPendingMessage(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().UTC().Truncate(time.Millisecond)

	if err := db.UpsertMessage(testMessage("m1", "a-b", "a", base), true); err != nil {
		t.Fatalf("upsert pending: %v", err)
	}
	// Server now knows about it; the reload list confirms it.
	if err := db.ReplaceMessages("a-b", []model.Message{*testMessage("m1", "a-b", "a", base)}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	pending, err := db.PendingMessages("a-b")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending flag not cleared: %+v", pending)
	}
}

func TestMarkReadBySender(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().UTC().Truncate(time.Millisecond)

	if err := db.UpsertMessage(testMessage("mine", "a-b", "a", base), false); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := db.UpsertMessage(testMessage("theirs", "a-b", "b", base.Add(time.Second)), false); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := db.MarkReadBySender("a-b", "a"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	msgs, err := db.ListMessages("a-b")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, m := range msgs {
		switch m.ID {
		case "mine":
			if !m.Read {
				t.Error("sender a message should be read")
			}
		case "theirs":
			if m.Read {
				t.Error("sender b message should stay unread")
			}
		}
	}
}

func TestConnectionsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveConnections([]string{"carol", "bob"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := db.Connections()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0] != "bob" || got[1] != "carol" {
		t.Fatalf("unexpected connections: %v", got)
	}

	// A second save replaces, not appends.
	if err := db.SaveConnections([]string{"dave"}); err != nil {
		t.Fatalf("save again: %v", err)
	}
	got, err = db.Connections()
	if err != nil {
		t.Fatalf("list again: %v", err)
	}
	if len(got) != 1 || got[0] != "dave" {
		t.Fatalf("unexpected connections after replace: %v", got)
	}
}

func TestSyncStateMissingKey(t *testing.T) {
	db := openTestDB(t)
	v, err := db.SyncState("never-set")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "" {
		t.Errorf("expected empty value, got %q", v)
	}
	if err := db.SetSyncState("last_user", "alice"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err = db.SyncState("last_user")
	if err != nil {
		t.Fatalf("get after set: %v", err)
	}
	if v != "alice" {
		t.Errorf("expected alice, got %q", v)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ts := time.Now().UTC().Truncate(time.Millisecond)
	if err := db.UpsertMessage(testMessage("m1", "a-b", "a", ts), false); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = db2.Close() }()
	if _, err := db2.Migrate(); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	msgs, err := db2.ListMessages("a-b")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("message lost across reopen: %+v", msgs)
	}
}
