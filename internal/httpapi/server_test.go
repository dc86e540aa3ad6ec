package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/mataid/matchat/internal/convstore"
	"github.com/mataid/matchat/internal/gateway"
	"github.com/mataid/matchat/internal/identity"
	"github.com/mataid/matchat/internal/model"
	"github.com/mataid/matchat/internal/presence"
)

func startAPI(t *testing.T) (*httptest.Server, *identity.Graph, *convstore.Store) {
	t.Helper()
	db, err := pebble.Open(t.TempDir(), &pebble.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	graph := identity.NewGraph(db, logger)
	store := convstore.New(db, logger)
	tracker := presence.NewTracker(graph, logger)
	gw := gateway.New(store, tracker, logger)
	srv := httptest.NewServer(New(graph, store, gw, logger).Router())
	t.Cleanup(srv.Close)
	return srv, graph, store
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp
}

func TestRegisterAndListUsers(t *testing.T) {
	srv, _, _ := startAPI(t)

	body, _ := json.Marshal(model.User{ID: "user-1", Name: "Alice Chen", Institution: "Stanford University"})
	resp, err := http.Post(srv.URL+"/api/users", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}

	var users []model.User
	getJSON(t, srv.URL+"/api/users", &users)
	if len(users) != 1 || users[0].Name != "Alice Chen" {
		t.Errorf("users = %+v", users)
	}
}

func TestSearchExcludesRequester(t *testing.T) {
	srv, graph, _ := startAPI(t)
	for _, u := range []model.User{
		{ID: "user-1", Name: "Alice Chen", Institution: "Stanford University", Department: "Materials Science"},
		{ID: "user-4", Name: "Diana Patel", Institution: "Stanford University", Department: "Chemistry"},
	} {
		if err := graph.Register(u); err != nil {
			t.Fatal(err)
		}
	}

	var matched []model.User
	getJSON(t, srv.URL+"/api/users/search?query=stanford&currentUserId=user-1", &matched)
	if len(matched) != 1 || matched[0].ID != "user-4" {
		t.Errorf("matched = %+v", matched)
	}

	// Missing params return an empty list, not an error.
	var empty []model.User
	resp := getJSON(t, srv.URL+"/api/users/search?query=stanford", &empty)
	if resp.StatusCode != http.StatusOK || len(empty) != 0 {
		t.Errorf("status = %d, matched = %+v", resp.StatusCode, empty)
	}
}

func TestConnectionEndpoints(t *testing.T) {
	srv, graph, _ := startAPI(t)
	for _, u := range []model.User{{ID: "user-1", Name: "Alice"}, {ID: "user-2", Name: "Bob"}} {
		if err := graph.Register(u); err != nil {
			t.Fatal(err)
		}
	}

	body := bytes.NewReader([]byte(`{"targetUserId":"user-2"}`))
	resp, err := http.Post(srv.URL+"/api/users/user-1/connections", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add connection status = %d", resp.StatusCode)
	}

	var conns []model.User
	getJSON(t, srv.URL+"/api/users/user-2/connections", &conns)
	if len(conns) != 1 || conns[0].ID != "user-1" {
		t.Errorf("symmetric connection missing: %+v", conns)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/users/user-1/connections/user-2", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	getJSON(t, srv.URL+"/api/users/user-1/connections", &conns)
	if len(conns) != 0 {
		t.Errorf("connections after remove = %+v", conns)
	}
}

func TestAddConnectionValidation(t *testing.T) {
	srv, _, _ := startAPI(t)

	resp, err := http.Post(srv.URL+"/api/users/user-1/connections", "application/json",
		bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing target status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/api/users/user-1/connections", "application/json",
		bytes.NewReader([]byte(`{"targetUserId":"user-1"}`)))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("self connection status = %d, want 400", resp.StatusCode)
	}
}

func TestConversationSummariesAndMessages(t *testing.T) {
	srv, graph, store := startAPI(t)
	for _, u := range []model.User{{ID: "user-1", Name: "Alice"}, {ID: "user-2", Name: "Bob"}} {
		if err := graph.Register(u); err != nil {
			t.Fatal(err)
		}
	}
	if err := graph.Connect("user-1", "user-2"); err != nil {
		t.Fatal(err)
	}

	conv := model.ConversationID("user-1", "user-2")
	for i := 0; i < 3; i++ {
		err := store.Append(model.Message{
			ID:             fmt.Sprintf("m%d", i),
			ConversationID: conv,
			SenderID:       "user-2",
			ReceiverID:     "user-1",
			Content:        fmt.Sprintf("hi %d", i),
			Type:           model.TypeText,
			Timestamp:      time.Now().UTC(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	var sums []model.Summary
	getJSON(t, srv.URL+"/api/conversations/user-1", &sums)
	if len(sums) != 1 {
		t.Fatalf("summaries = %+v", sums)
	}
	if sums[0].UnreadCount != 3 || sums[0].LastMessage == nil || sums[0].LastMessage.Content != "hi 2" {
		t.Errorf("summary = %+v", sums[0])
	}

	var msgs []model.Message
	getJSON(t, srv.URL+"/api/messages/"+conv, &msgs)
	if len(msgs) != 3 {
		t.Errorf("messages = %+v", msgs)
	}

	// Unknown conversation returns an empty array.
	getJSON(t, srv.URL+"/api/messages/none", &msgs)
	if len(msgs) != 0 {
		t.Errorf("unknown conversation messages = %+v", msgs)
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := startAPI(t)
	var status map[string]string
	resp := getJSON(t, srv.URL+"/healthz", &status)
	if resp.StatusCode != http.StatusOK || status["status"] != "ok" {
		t.Errorf("healthz = %d %v", resp.StatusCode, status)
	}
}
