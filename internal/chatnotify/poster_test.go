package chatnotify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/prsentry/prsentry/internal/apperrors"
)

func TestPosterPostSuccessOnOKBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p := NewPoster(srv.URL, zaptest.NewLogger(t).Sugar())
	if err := p.Post(context.Background(), Message{Text: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPosterPostSuccessOnEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPoster(srv.URL, zaptest.NewLogger(t).Sugar())
	if err := p.Post(context.Background(), Message{Text: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPosterPostFailsOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPoster(srv.URL, zaptest.NewLogger(t).Sugar())
	err := p.Post(context.Background(), Message{Text: "hi"})
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	if apperrors.CodeOf(err) != apperrors.ChatDeliveryFailure {
		t.Errorf("expected ChatDeliveryFailure, got %v", apperrors.CodeOf(err))
	}
}

func TestPosterPostFailsOnUnexpectedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("something unexpected"))
	}))
	defer srv.Close()

	p := NewPoster(srv.URL, zaptest.NewLogger(t).Sugar())
	err := p.Post(context.Background(), Message{Text: "hi"})
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
}
