package krakenfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestParseTicker(t *testing.T) {
	price, ok := parseTicker([]byte(`[42,{"c":["45123.40000","0.001"]},"ticker","XBT/USD"]`))
	require.True(t, ok)
	require.Equal(t, 45123.4, price)

	rejected := [][]byte{
		[]byte(`{"event":"systemStatus","status":"online"}`),
		[]byte(`{"event":"subscriptionStatus","status":"subscribed"}`),
		[]byte(`[42,{"c":["not-a-number"]},"ticker","XBT/USD"]`),
		[]byte(`[42,{"c":[]},"ticker","XBT/USD"]`),
		[]byte(`[42,{"a":["1.0"]},"ticker","XBT/USD"]`),
		[]byte(`[42,{"c":["0"]},"ticker","XBT/USD"]`),
		[]byte(`not json`),
	}
	for _, msg := range rejected {
		_, ok := parseTicker(msg)
		require.False(t, ok, "expected %s to be rejected", msg)
	}
}

func TestServiceServesLatestTickerPrice(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Expect the ticker subscription first.
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var sub map[string]interface{}
		require.NoError(t, json.Unmarshal(msg, &sub))
		require.Equal(t, "subscribe", sub["event"])

		messages := []string{
			`{"event":"subscriptionStatus","status":"subscribed"}`,
			`[42,{"c":["44000.00000","0.001"]},"ticker","XBT/USD"]`,
			`[42,{"c":["45000.00000","0.002"]},"ticker","XBT/USD"]`,
		}
		for _, m := range messages {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(m)))
		}
		// Keep the connection open until the client quits.
		conn.ReadMessage()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	svc, err := newService(url)
	require.NoError(t, err)

	_, err = svc.LatestPrice(context.Background())
	require.Error(t, err)

	go svc.Start()
	defer svc.Stop()

	require.Eventually(t, func() bool {
		price, err := svc.LatestPrice(context.Background())
		return err == nil && price == 45000.0
	}, 2*time.Second, 20*time.Millisecond)
}
