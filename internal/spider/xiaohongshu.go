package spider

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
)

var (
	noteIDPattern   = regexp.MustCompile(`/explore/([a-zA-Z0-9]+)`)
	scriptNoteIDs   = regexp.MustCompile(`"note_id":\s*"([^"]+)"`)
	countWithSuffix = regexp.MustCompile(`([\d.]+)([kw万千]?)`)
)

// XiaohongshuConfig tunes the xiaohongshu parser.
type XiaohongshuConfig struct {
	MinLikesCount    int
	MinCommentsCount int
}

// Xiaohongshu parses search result pages and note detail pages.
type Xiaohongshu struct {
	cfg    XiaohongshuConfig
	logger *zap.Logger
}

// NewXiaohongshu builds the parser.
func NewXiaohongshu(cfg XiaohongshuConfig, logger *zap.Logger) *Xiaohongshu {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Xiaohongshu{cfg: cfg, logger: logger}
}

// Name implements Parser.
func (x *Xiaohongshu) Name() string { return "xiaohongshu" }

// SeedURLs implements Parser.
func (x *Xiaohongshu) SeedURLs(params crawler.JobParams) []string {
	return []string{
		fmt.Sprintf("https://www.xiaohongshu.com/search_result?keyword=%s&type=51",
			url.QueryEscape(params.Keyword)),
	}
}

// Parse implements Parser, routing by page shape: a note detail page when
// the URL carries a note id, a search result page otherwise.
func (x *Xiaohongshu) Parse(resp *crawler.Response, params crawler.JobParams) (Output, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return Output{}, fmt.Errorf("parse html: %w", err)
	}
	if id := NoteID(resp.Request.URL); id != "" {
		return x.parseNote(doc, resp, id, params)
	}
	return x.parseSearch(doc, resp)
}

// parseSearch extracts note detail links from a search result page, both
// from anchors and from embedded state in script tags.
func (x *Xiaohongshu) parseSearch(doc *goquery.Document, resp *crawler.Response) (Output, error) {
	base, err := url.Parse(resp.Request.URL)
	if err != nil {
		return Output{}, fmt.Errorf("parse page url: %w", err)
	}

	var links []string
	doc.Find(`a[href*="/explore/"]`).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		links = append(links, base.ResolveReference(ref).String())
	})

	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		text := sel.Text()
		if !strings.Contains(text, "window.__INITIAL_STATE__") {
			return
		}
		for _, match := range scriptNoteIDs.FindAllStringSubmatch(text, -1) {
			links = append(links, "https://www.xiaohongshu.com/explore/"+match[1])
		}
	})

	links = crawler.CleanList(links)
	x.logger.Info("search page parsed",
		zap.String("url", resp.Request.URL),
		zap.Int("note_links", len(links)))

	out := Output{Requests: make([]*crawler.Request, 0, len(links))}
	for _, link := range links {
		out.Requests = append(out.Requests, crawler.NewRequest(link))
	}
	return out, nil
}

// parseNote extracts one Note record from a detail page.
func (x *Xiaohongshu) parseNote(doc *goquery.Document, resp *crawler.Response, noteID string, params crawler.JobParams) (Output, error) {
	note := &crawler.Note{
		NoteID:        noteID,
		URL:           resp.Request.URL,
		Keyword:       params.Keyword,
		Title:         x.title(doc),
		Content:       x.content(doc),
		AuthorName:    cleanText(doc.Find(".author-name").First().Text()),
		AuthorID:      doc.Find("[data-author-id]").First().AttrOr("data-author-id", ""),
		AuthorAvatar:  doc.Find(".author-avatar img").First().AttrOr("src", ""),
		LikesCount:    ParseCount(doc.Find(".like-count").First().Text()),
		CommentsCount: ParseCount(doc.Find(".comment-count").First().Text()),
		SharesCount:   ParseCount(doc.Find(".share-count").First().Text()),
		Images:        x.images(doc),
		Tags:          x.tags(doc),
		CrawlTime:     time.Now().UTC(),
	}

	if x.belowQualityBar(note) {
		x.logger.Debug("note below quality thresholds, skipped",
			zap.String("note_id", noteID),
			zap.Int("likes", note.LikesCount),
			zap.Int("comments", note.CommentsCount))
		return Output{}, nil
	}

	return Output{Records: []*crawler.Record{{Kind: crawler.KindNote, Note: note}}}, nil
}

func (x *Xiaohongshu) belowQualityBar(note *crawler.Note) bool {
	if x.cfg.MinLikesCount > 0 && note.LikesCount < x.cfg.MinLikesCount {
		return true
	}
	if x.cfg.MinCommentsCount > 0 && note.CommentsCount < x.cfg.MinCommentsCount {
		return true
	}
	return false
}

func (x *Xiaohongshu) title(doc *goquery.Document) string {
	for _, selector := range []string{"h1.title", ".note-title", "title"} {
		if text := cleanText(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func (x *Xiaohongshu) content(doc *goquery.Document) string {
	var parts []string
	doc.Find(".note-content, .desc").Each(func(_ int, sel *goquery.Selection) {
		if text := cleanText(sel.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}

func (x *Xiaohongshu) images(doc *goquery.Document) []string {
	var urls []string
	doc.Find(".note-images img, .gallery img").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok {
			return
		}
		if strings.HasPrefix(src, "//") {
			src = "https:" + src
		}
		if strings.HasPrefix(src, "http") {
			urls = append(urls, src)
		}
	})
	return crawler.CleanList(urls)
}

func (x *Xiaohongshu) tags(doc *goquery.Document) []string {
	var tags []string
	doc.Find(".tag, .hashtag").Each(func(_ int, sel *goquery.Selection) {
		tag := strings.TrimPrefix(cleanText(sel.Text()), "#")
		if tag != "" {
			tags = append(tags, tag)
		}
	})
	return crawler.CleanList(tags)
}

// NoteID extracts the note identifier from a detail page URL, or "".
func NoteID(pageURL string) string {
	match := noteIDPattern.FindStringSubmatch(pageURL)
	if match == nil {
		return ""
	}
	return match[1]
}

// ParseCount parses a display count with an optional scale suffix:
// "1.2w" and "1.2万" mean 12000, "3k" and "3千" mean 3000. Unparseable
// input counts as zero.
func ParseCount(text string) int {
	match := countWithSuffix.FindStringSubmatch(strings.ToLower(strings.TrimSpace(text)))
	if match == nil {
		return 0
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0
	}
	switch match[2] {
	case "k", "千":
		value *= 1e3
	case "w", "万":
		value *= 1e4
	}
	return int(value)
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
