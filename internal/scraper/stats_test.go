package scraper

import (
	"context"
	"errors"
	"testing"

	"github.com/codebuildervaibhav/audio-relay/internal/acquire"
)

type stubResolver struct {
	md  acquire.Metadata
	err error
}

func (s stubResolver) Resolve(ctx context.Context, rawURL string) (acquire.Metadata, error) {
	return s.md, s.err
}

func TestCollectFallsBackToResolver(t *testing.T) {
	c := NewCollector(Options{Enabled: true}, stubResolver{md: acquire.Metadata{
		ID: "abc123", Title: "Song", Uploader: "Artist", ViewCount: 42, LikeCount: 7,
	}})
	c.browse = func(ctx context.Context, url string) (Stats, error) {
		return Stats{}, errors.New("chrome not found")
	}

	stats, err := c.Collect(context.Background(), "https://youtu.be/abc123")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if stats.Source != "ytdlp" || stats.ViewCount != 42 || stats.LikeCount != 7 || stats.Channel != "Artist" {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCollectPrefersBrowser(t *testing.T) {
	c := NewCollector(Options{Enabled: true}, stubResolver{err: errors.New("should not be called")})
	c.browse = func(ctx context.Context, url string) (Stats, error) {
		return Stats{VideoID: "abc123", Source: "browser"}, nil
	}
	stats, err := c.Collect(context.Background(), "https://youtu.be/abc123")
	if err != nil || stats.Source != "browser" {
		t.Fatalf("stats = %+v, err = %v", stats, err)
	}
}

func TestCollectDisabledBrowserSkipsChrome(t *testing.T) {
	c := NewCollector(Options{Enabled: false}, stubResolver{md: acquire.Metadata{ID: "x"}})
	c.browse = func(ctx context.Context, url string) (Stats, error) {
		t.Fatal("browser should not run when disabled")
		return Stats{}, nil
	}
	if _, err := c.Collect(context.Background(), "https://youtu.be/x"); err != nil {
		t.Fatalf("collect: %v", err)
	}
}

func TestCollectAllSourcesFail(t *testing.T) {
	c := NewCollector(Options{}, stubResolver{err: errors.New("yt-dlp: video unavailable")})
	if _, err := c.Collect(context.Background(), "https://youtu.be/x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParsePageDetails(t *testing.T) {
	stats, err := parsePageDetails(`{"videoId":"abc123","title":"Song","author":"Artist","lengthSeconds":"213","viewCount":"1500000","likes":"12345"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if stats.ViewCount != 1500000 || stats.LikeCount != 12345 || stats.Duration != 213 {
		t.Fatalf("stats = %+v", stats)
	}
	if _, err := parsePageDetails(`{"title":"Consent"}`); err == nil {
		t.Fatal("pages without a player response should fail")
	}
}
