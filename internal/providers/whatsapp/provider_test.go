package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendTextPostsToInstance(t *testing.T) {
	var gotPath, gotKey string
	var gotBody sendTextRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("apikey")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewEvolutionClient(Config{BaseURL: srv.URL + "/", APIKey: "secret"})
	err := client.SendText(context.Background(), "inmo-1", "+54 9 11 5555-1234", "hola")
	require.NoError(t, err)

	assert.Equal(t, "/message/sendText/inmo-1", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "5491155551234", gotBody.Number)
	assert.Equal(t, "hola", gotBody.Text)
}

func TestSendTextFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewEvolutionClient(Config{BaseURL: srv.URL, APIKey: "k"})
	ctx := context.Background()

	assert.ErrorIs(t, client.SendText(ctx, "", "123", "x"), ErrNoInstance)
	assert.ErrorIs(t, client.SendText(ctx, "inst", " + ", "x"), ErrNoRecipient)
	assert.ErrorIs(t, client.SendText(ctx, "inst", "123", "x"), ErrSendFailed)
}

func TestSendTextHonoursTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewEvolutionClient(Config{BaseURL: srv.URL, APIKey: "k", Timeout: 20 * time.Millisecond})
	err := client.SendText(context.Background(), "inst", "123", "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSendFailed))
}
