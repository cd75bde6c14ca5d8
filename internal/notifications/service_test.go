package notifications_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"podbridge/internal/episode"
	"podbridge/internal/notifications"
	"podbridge/internal/testsupport"
)

func TestNewServiceReturnsNoopWithoutTopic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc := notifications.NewService(cfg)
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("noop TestNotification: %v", err)
	}
	if err := svc.NotifyDownloadCompleted(context.Background(), "Episode"); err != nil {
		t.Fatalf("noop NotifyDownloadCompleted: %v", err)
	}
}

func TestNotifyPipelineCompletedPostsToNtfy(t *testing.T) {
	var gotTitle, gotTags, gotPriority string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotTags = r.Header.Get("Tags")
		gotPriority = r.Header.Get("Priority")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithNtfyTopic(server.URL))
	svc := notifications.NewService(cfg)

	if err := svc.NotifyPipelineCompleted(context.Background(), episode.PipelineTranslation, "Mi Episodio"); err != nil {
		t.Fatalf("NotifyPipelineCompleted: %v", err)
	}
	if gotTitle != "Podbridge - Translation Complete" {
		t.Fatalf("unexpected title header: %q", gotTitle)
	}
	if gotTags != "podbridge,translation,completed" {
		t.Fatalf("unexpected tags header: %q", gotTags)
	}
	if gotPriority != "high" {
		t.Fatalf("unexpected priority header: %q", gotPriority)
	}
}

func TestSendSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic over quota", http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithNtfyTopic(server.URL))
	svc := notifications.NewService(cfg)

	if err := svc.NotifyDownloadFailed(context.Background(), "Episode", "network error"); err == nil {
		t.Fatal("expected error from non-2xx response")
	}
}

func TestNotifyWorkerTerminatedDefaultsReason(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		body = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithNtfyTopic(server.URL))
	svc := notifications.NewService(cfg)

	if err := svc.NotifyWorkerTerminated(context.Background(), "  "); err != nil {
		t.Fatalf("NotifyWorkerTerminated: %v", err)
	}
	if body == "" || body == "\n" {
		t.Fatal("expected message body")
	}
}
