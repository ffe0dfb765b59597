package livehubsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCastVoteSendsActionAndDecodesTally(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/vote" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"results":{"results":[{"name":"A","votes":1,"percentage":100}],"totalVotes":1,"lastUpdate":1}}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	tally, err := c.CastVote(context.Background(), "fan-1", 0)
	if err != nil {
		t.Fatalf("cast vote: %v", err)
	}
	if got["action"] != "vote" || got["clientId"] != "fan-1" || got["songIndex"] != float64(0) {
		t.Fatalf("unexpected body %v", got)
	}
	if tally.TotalVotes != 1 || tally.Results[0].Percentage != 100 {
		t.Fatalf("unexpected tally %+v", tally)
	}
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"ALREADY_VOTED","message":"Already voted","previousVote":{"songIndex":1,"timestamp":5}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).CastVote(context.Background(), "fan-1", 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "ALREADY_VOTED" || apiErr.Message != "Already voted" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestBearerTokenAndNullCurrentSong(t *testing.T) {
	var authz string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz = r.Header.Get("Authorization")
		w.Write([]byte(`{"currentSong":null}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	cur, err := c.CurrentSong(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cur != nil {
		t.Fatalf("expected nil current song, got %+v", cur)
	}
	if authz != "Bearer tok" {
		t.Fatalf("unexpected authorization header %q", authz)
	}
}
