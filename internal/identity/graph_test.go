package identity

import (
	"testing"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/mataid/matchat/internal/apperr"
	"github.com/mataid/matchat/internal/model"
)

func testGraph(t *testing.T) *Graph {
	t.Helper()
	db, err := pebble.Open(t.TempDir(), &pebble.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewGraph(db, zap.NewNop())
}

func seedUsers(t *testing.T, g *Graph) {
	t.Helper()
	users := []model.User{
		{ID: "user-1", Name: "Alice Chen", Institution: "Stanford University", Department: "Materials Science"},
		{ID: "user-2", Name: "Bob Rodriguez", Institution: "MIT", Department: "Chemical Engineering"},
		{ID: "user-3", Name: "Charlie Kim", Institution: "UC Berkeley", Department: "Physics"},
	}
	for _, u := range users {
		if err := g.Register(u); err != nil {
			t.Fatal(err)
		}
	}
}

func TestConnectSymmetric(t *testing.T) {
	g := testGraph(t)
	seedUsers(t, g)

	if err := g.Connect("user-1", "user-2"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	a, err := g.ConnectionsOf("user-1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := g.ConnectionsOf("user-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 1 || a[0] != "user-2" {
		t.Errorf("connections of user-1 = %v, want [user-2]", a)
	}
	if len(b) != 1 || b[0] != "user-1" {
		t.Errorf("connections of user-2 = %v, want [user-1]", b)
	}
}

func TestConnectIdempotent(t *testing.T) {
	g := testGraph(t)
	seedUsers(t, g)

	for j := 0; j < 3; j++ {
		if err := g.Connect("user-1", "user-2"); err != nil {
			t.Fatal(err)
		}
	}
	ids, err := g.ConnectionsOf("user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Errorf("connections = %v, want exactly one edge", ids)
	}
}

func TestConnectSelfRejected(t *testing.T) {
	g := testGraph(t)
	seedUsers(t, g)

	err := g.Connect("user-1", "user-1")
	if !apperr.IsValidation(err) {
		t.Errorf("Connect(self) error = %v, want ValidationError", err)
	}
}

func TestDisconnectRemovesBothSides(t *testing.T) {
	g := testGraph(t)
	seedUsers(t, g)

	if err := g.Connect("user-1", "user-2"); err != nil {
		t.Fatal(err)
	}
	if err := g.Disconnect("user-1", "user-2"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	for _, id := range []string{"user-1", "user-2"} {
		ids, err := g.ConnectionsOf(id)
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 0 {
			t.Errorf("connections of %s = %v, want empty", id, ids)
		}
	}

	// Disconnecting again is a no-op.
	if err := g.Disconnect("user-1", "user-2"); err != nil {
		t.Errorf("second Disconnect() error = %v", err)
	}
}

func TestSearch(t *testing.T) {
	g := testGraph(t)
	seedUsers(t, g)

	tests := []struct {
		query, exclude string
		wantIDs        []string
	}{
		{"alice", "user-2", []string{"user-1"}},
		{"STANFORD", "user-2", []string{"user-1"}},
		{"engineering", "user-1", []string{"user-2"}},
		{"physics", "user-3", nil}, // requester excluded
		{"", "user-1", nil},
	}
	for _, tt := range tests {
		got, err := g.Search(tt.query, tt.exclude)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(tt.wantIDs) {
			t.Errorf("Search(%q) returned %d users, want %d", tt.query, len(got), len(tt.wantIDs))
			continue
		}
		for i, u := range got {
			if u.ID != tt.wantIDs[i] {
				t.Errorf("Search(%q)[%d] = %s, want %s", tt.query, i, u.ID, tt.wantIDs[i])
			}
		}
	}
}

func TestGetMissing(t *testing.T) {
	g := testGraph(t)
	_, err := g.Get("ghost")
	if !apperr.IsNotFound(err) {
		t.Errorf("Get(missing) error = %v, want NotFoundError", err)
	}
}

func TestRemoveWithdrawsFromPeers(t *testing.T) {
	g := testGraph(t)
	seedUsers(t, g)

	if err := g.Connect("user-1", "user-2"); err != nil {
		t.Fatal(err)
	}
	if err := g.Connect("user-1", "user-3"); err != nil {
		t.Fatal(err)
	}
	if err := g.Remove("user-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	if _, err := g.Get("user-1"); !apperr.IsNotFound(err) {
		t.Errorf("removed user still present: %v", err)
	}
	for _, peer := range []string{"user-2", "user-3"} {
		ids, err := g.ConnectionsOf(peer)
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 0 {
			t.Errorf("connections of %s = %v after peer removal", peer, ids)
		}
	}
}
