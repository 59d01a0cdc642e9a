package cookiestore_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rayluo/identity/sessions/cookiestore"
)

var testAuthKey = []byte("0123456789abcdef0123456789abcdef")

func TestNewRequiresAuthKey(t *testing.T) {
	_, err := cookiestore.New(nil, nil)
	require.Error(t, err)
}

func TestValuesTravelInTheCookie(t *testing.T) {
	source, err := cookiestore.New(testAuthKey, nil)
	require.NoError(t, err)

	// First request writes a value; the response carries the cookie.
	rec := httptest.NewRecorder()
	store, err := source.Open(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, store.Set("key", "value"))

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	// A later request presenting that cookie reads the value back.
	next := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		next.AddCookie(c)
	}
	store, err = source.Open(httptest.NewRecorder(), next)
	require.NoError(t, err)

	v, ok, err := store.Get("key")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value", v)
}

func TestTamperedCookieYieldsEmptySession(t *testing.T) {
	source, err := cookiestore.New(testAuthKey, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "identity-session", Value: "tampered"})

	store, err := source.Open(httptest.NewRecorder(), req)
	require.NoError(t, err)

	_, ok, err := store.Get("key")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteAbsentKeyIsNoop(t *testing.T) {
	source, err := cookiestore.New(testAuthKey, nil, cookiestore.WithSessionName("app-session"))
	require.NoError(t, err)

	store, err := source.Open(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, store.Delete("missing"))
}
