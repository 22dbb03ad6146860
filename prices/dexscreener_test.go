package prices

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDexscreener_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mint123", r.URL.Path)
		w.Write([]byte(`{"pairs":[{"priceUsd":"0.004269"},{"priceUsd":"0.004301"}]}`))
	}))
	defer srv.Close()

	d := NewDexscreener(time.Second)
	d.baseURL = srv.URL

	sample, err := d.Fetch(context.Background(), "mint123")
	require.NoError(t, err)
	require.Equal(t, "dexscreener", sample.Source)
	require.Equal(t, "0.004269", sample.Price.String(), "first pair wins")
}

func TestDexscreener_NoPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"pairs":[]}`))
	}))
	defer srv.Close()

	d := NewDexscreener(time.Second)
	d.baseURL = srv.URL

	_, err := d.Fetch(context.Background(), "mint123")
	require.Error(t, err)
}

func TestDexscreener_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDexscreener(time.Second)
	d.baseURL = srv.URL

	_, err := d.Fetch(context.Background(), "mint123")
	require.Error(t, err)
}

func TestBirdeye_RequiresAPIKey(t *testing.T) {
	b := NewBirdeye("", time.Second)

	_, err := b.Fetch(context.Background(), "mint123")
	require.Error(t, err)
}

func TestBirdeye_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("X-API-KEY"))
		require.Equal(t, "mint123", r.URL.Query().Get("address"))
		w.Write([]byte(`{"success":true,"data":{"value":1.25}}`))
	}))
	defer srv.Close()

	b := NewBirdeye("secret", time.Second)
	b.baseURL = srv.URL

	sample, err := b.Fetch(context.Background(), "mint123")
	require.NoError(t, err)
	require.Equal(t, "1.25", sample.Price.String())
}
