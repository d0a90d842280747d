package moltter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_SolvesChallenge(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls++

		w.Header().Set("Content-Type", "application/json")
		if req["challenge_id"] == nil {
			w.Write([]byte(`{"success":true,"data":{"challenge":{"id":"c1","type":"math","question":"Calculate: 1000 × 1001 = ?"}}}`))
			return
		}
		if req["challenge_answer"] != "1001000" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"success":false,"error":"Incorrect answer","code":"CHALLENGE_FAILED"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true,"data":{"id":"a1","name":"bot_one","api_key":"moltter_k","claim_url":"https://x/claim/c"}}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTPClient: srv.Client()}
	reg, err := c.Register("Bot_One", "")
	require.NoError(t, err)
	assert.Equal(t, "bot_one", reg.Name)
	assert.Equal(t, "moltter_k", c.APIKey)
	assert.Equal(t, 2, calls)
}

func TestDo_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"success":false,"error":"Agent not yet claimed","code":"NOT_CLAIMED","hint":"claim it"}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, APIKey: "secret", HTTPClient: srv.Client()}
	_, err := c.Post("hello", "")
	require.Error(t, err)
	assert.True(t, IsCode(err, "NOT_CLAIMED"))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "claim it", apiErr.Hint)
}

func TestDo_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTPClient: srv.Client()}
	_, err := c.Me()
	assert.True(t, IsCode(err, "502"))
}
