package push_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/push"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGateway_Deliver(t *testing.T) {
	var got push.Message
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	gw := push.NewHTTPGateway(srv.URL, "secret", time.Second)

	err := gw.Deliver(context.Background(), push.Message{CollapseKey: "n-1", Token: "tok", Title: "hi", Body: "there"})

	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "n-1", got.CollapseKey)
	assert.Equal(t, "tok", got.Token)
}

func TestHTTPGateway_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unregistered token", http.StatusGone)
	}))
	defer srv.Close()

	gw := push.NewHTTPGateway(srv.URL, "", time.Second)

	err := gw.Deliver(context.Background(), push.Message{CollapseKey: "n-1", Token: "tok"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "410")

	assert.ErrorIs(t, gw.Deliver(context.Background(), push.Message{CollapseKey: "n-2"}), push.ErrNoToken)
}
