package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/audio-relay/internal/acquire"
)

// Stats is the public engagement data of a source page.
type Stats struct {
	VideoID   string  `json:"videoId"`
	Title     string  `json:"title"`
	Channel   string  `json:"channel"`
	Duration  float64 `json:"durationSeconds"`
	ViewCount int64   `json:"viewCount"`
	LikeCount int64   `json:"likeCount"`
	Source    string  `json:"source"`
}

// MetadataResolver is the yt-dlp lookup used when the browser is unavailable.
type MetadataResolver interface {
	Resolve(ctx context.Context, rawURL string) (acquire.Metadata, error)
}

// Options configures the headless browser.
type Options struct {
	Enabled   bool
	Proxy     string
	UserAgent string
	Timeout   time.Duration
}

// Collector gathers Stats with headless Chrome, falling back to yt-dlp.
type Collector struct {
	opts     Options
	resolver MetadataResolver
	browse   func(ctx context.Context, url string) (Stats, error)
}

func NewCollector(opts Options, resolver MetadataResolver) *Collector {
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	c := &Collector{opts: opts, resolver: resolver}
	c.browse = c.scrape
	return c
}

// Collect returns stats for url.
func (c *Collector) Collect(ctx context.Context, url string) (Stats, error) {
	if c.opts.Enabled {
		stats, err := c.browse(ctx, url)
		if err == nil {
			return stats, nil
		}
		logrus.Warnf("Browser stats for %s failed, falling back to yt-dlp: %v", url, err)
	}
	if c.resolver == nil {
		return Stats{}, fmt.Errorf("no stats source available for %s", url)
	}

	md, err := c.resolver.Resolve(ctx, url)
	if err != nil {
		return Stats{}, fmt.Errorf("resolve stats: %w", err)
	}
	return Stats{
		VideoID:   md.ID,
		Title:     md.Title,
		Channel:   md.Uploader,
		Duration:  md.Duration,
		ViewCount: md.ViewCount,
		LikeCount: md.LikeCount,
		Source:    "ytdlp",
	}, nil
}

// pageScript reads the player response YouTube embeds in every watch page.
// The like count only lives in the rendered button label.
const pageScript = `(() => {
	const d = (window.ytInitialPlayerResponse || {}).videoDetails || {};
	const btn = document.querySelector('like-button-view-model button, #segmented-like-button button');
	const label = btn ? (btn.getAttribute('aria-label') || '') : '';
	const likes = (label.replace(/[^0-9]/g, '') || '0');
	return JSON.stringify({
		videoId: d.videoId || '',
		title: d.title || document.title,
		author: d.author || '',
		lengthSeconds: d.lengthSeconds || '0',
		viewCount: d.viewCount || '0',
		likes: likes
	});
})()`

type pageDetails struct {
	VideoID       string `json:"videoId"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	LengthSeconds string `json:"lengthSeconds"`
	ViewCount     string `json:"viewCount"`
	Likes         string `json:"likes"`
}

func (c *Collector) scrape(ctx context.Context, url string) (Stats, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("mute-audio", true))
	if c.opts.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(c.opts.Proxy))
	}
	if c.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(c.opts.UserAgent))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancel()
	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	browserCtx, cancel = context.WithTimeout(browserCtx, c.opts.Timeout)
	defer cancel()

	logrus.Debugf("Collecting stats in headless Chrome: %s", url)

	var raw string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(2*time.Second),
		chromedp.Evaluate(pageScript, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	if err != nil {
		return Stats{}, fmt.Errorf("browser: %w", err)
	}
	return parsePageDetails(raw)
}

func parsePageDetails(raw string) (Stats, error) {
	var d pageDetails
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Stats{}, fmt.Errorf("decode page details: %w", err)
	}
	if d.VideoID == "" {
		return Stats{}, fmt.Errorf("page has no player response")
	}

	views, _ := strconv.ParseInt(d.ViewCount, 10, 64)
	likes, _ := strconv.ParseInt(d.Likes, 10, 64)
	length, _ := strconv.ParseFloat(d.LengthSeconds, 64)
	return Stats{
		VideoID:   d.VideoID,
		Title:     d.Title,
		Channel:   d.Author,
		Duration:  length,
		ViewCount: views,
		LikeCount: likes,
		Source:    "browser",
	}, nil
}
