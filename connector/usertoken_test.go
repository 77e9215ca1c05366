package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetUserTokenReturnsToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/usertoken/GetToken" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("userId") != "user-1" || q.Get("connectionName") != "GraphConnection" || q.Get("channelId") != "msteams" {
			t.Errorf("unexpected query: %v", q)
		}
		if q.Get("code") != "123456" {
			t.Errorf("missing magic code: %v", q)
		}
		fmt.Fprint(w, `{"connectionName":"GraphConnection","token":"delegated-token"}`)
	}))
	defer srv.Close()

	c := NewUserTokenClient(nil, srv.URL, nil)
	res, err := c.GetUserToken(context.Background(), "user-1", "GraphConnection", "msteams", "123456")
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if res.Token != "delegated-token" {
		t.Fatalf("unexpected token: %q", res.Token)
	}
}

func TestGetUserTokenNotFoundIsErrNoToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewUserTokenClient(nil, srv.URL, nil)
	_, err := c.GetUserToken(context.Background(), "u", "conn", "msteams", "")
	if !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got: %v", err)
	}
}

func TestGetUserTokenEmptyTokenIsErrNoToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token":""}`)
	}))
	defer srv.Close()

	c := NewUserTokenClient(nil, srv.URL, nil)
	_, err := c.GetUserToken(context.Background(), "u", "conn", "msteams", "")
	if !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got: %v", err)
	}
}

func TestSignOutTreatsNotFoundAsSuccess(t *testing.T) {
	t.Parallel()

	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewUserTokenClient(nil, srv.URL, nil)
	if err := c.SignOut(context.Background(), "u", "conn", "msteams"); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Fatalf("expected DELETE, got %s", gotMethod)
	}
}

func TestUserTokenClientValidatesArgs(t *testing.T) {
	t.Parallel()

	c := NewUserTokenClient(nil, "", nil)
	if _, err := c.GetUserToken(context.Background(), "", "conn", "ch", ""); err == nil {
		t.Fatalf("expected user id error")
	}
	if err := c.SignOut(context.Background(), "u", "", "ch"); err == nil {
		t.Fatalf("expected connection name error")
	}
}
