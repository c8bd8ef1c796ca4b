package export

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	errs "bskyarchive/pkg/errors"
	"bskyarchive/pkg/logger"
	"bskyarchive/pkg/retry"
)

// MediaDirName is the folder next to the Markdown files holding media.
const MediaDirName = "media"

// maxMediaSize bounds a single downloaded media file.
const maxMediaSize = 64 << 20

// postSeparator separates posts rendered from one document.
const postSeparator = "\n\n---\n\n"

// MediaSaver stores a remote media file locally and returns the path to
// link from Markdown.
type MediaSaver interface {
	Save(ctx context.Context, rawURL, prefix string) (string, error)
}

type postView struct {
	Author struct {
		Handle string `json:"handle"`
		Avatar string `json:"avatar"`
	} `json:"author"`
	Record struct {
		Text      string `json:"text"`
		CreatedAt string `json:"createdAt"`
	} `json:"record"`
	Embed       *embedView `json:"embed"`
	LikeCount   int        `json:"likeCount"`
	RepostCount int        `json:"repostCount"`
	ReplyCount  int        `json:"replyCount"`
}

type embedView struct {
	External *struct {
		URI         string `json:"uri"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Thumb       string `json:"thumb"`
	} `json:"external"`
	Images []struct {
		Fullsize string `json:"fullsize"`
		Alt      string `json:"alt"`
	} `json:"images"`
	Video *videoView `json:"video"`
	// Playlist and Thumbnail are set on app.bsky.embed.video#view.
	videoView
}

type videoView struct {
	Playlist  string `json:"playlist"`
	Thumbnail string `json:"thumbnail"`
}

// Renderer converts post JSON into Markdown
type Renderer struct {
	media  MediaSaver
	logger logger.Logger
}

// NewRenderer creates a Renderer. A nil media keeps remote links and
// skips thumbnails and avatars.
func NewRenderer(media MediaSaver, log logger.Logger) *Renderer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Renderer{media: media, logger: log}
}

// Render returns the Markdown for every post found in data. It accepts a
// post view, a feed item or thread holding one under "post", an entity
// holding them under "data", or an array of any of these.
func (r *Renderer) Render(ctx context.Context, data []byte) string {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Sprintf("# JSON Parse Error\n\nCould not parse JSON file: %v", err)
	}

	posts := findPosts(doc)
	if len(posts) == 0 {
		return "# Unknown Post Format\n\nCould not parse post data from JSON structure."
	}

	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, r.renderPost(ctx, p))
	}
	return strings.Join(out, postSeparator)
}

// findPosts collects the post views in doc, outermost first
func findPosts(doc any) []postView {
	var posts []postView
	var visit func(v any)
	visit = func(v any) {
		switch val := v.(type) {
		case []any:
			for _, item := range val {
				visit(item)
			}
		case map[string]any:
			if inner, ok := val["post"].(map[string]any); ok {
				visit(inner)
				return
			}
			_, hasAuthor := val["author"]
			_, hasRecord := val["record"]
			if hasAuthor && hasRecord {
				raw, err := json.Marshal(val)
				if err != nil {
					return
				}
				var p postView
				if json.Unmarshal(raw, &p) == nil {
					posts = append(posts, p)
				}
				return
			}
			if data, ok := val["data"]; ok {
				visit(data)
				return
			}
			if thread, ok := val["thread"]; ok {
				visit(thread)
			}
		}
	}
	visit(doc)
	return posts
}

func (r *Renderer) renderPost(ctx context.Context, p postView) string {
	handle := p.Author.Handle
	if handle == "" {
		handle = "unknown"
	}
	created := p.Record.CreatedAt
	if created == "" {
		created = "unknown"
	}

	var lines []string
	if e := p.Embed; e != nil && e.External != nil && e.External.Title != "" {
		lines = append(lines, "# "+e.External.Title+"\n")
	} else {
		lines = append(lines, "# Post by @"+handle+"\n")
	}

	if p.Author.Avatar != "" {
		if local, ok := r.save(ctx, p.Author.Avatar, "avatar_"); ok {
			lines = append(lines, fmt.Sprintf("![avatar](%s)\n", local))
		}
	}

	lines = append(lines,
		"- **Author**: @"+handle,
		"- **Date**: "+created,
		fmt.Sprintf("- **Likes**: %d | **Reposts**: %d | **Replies**: %d\n", p.LikeCount, p.RepostCount, p.ReplyCount),
	)

	if text := strings.TrimSpace(p.Record.Text); text != "" {
		lines = append(lines, text+"\n")
	}

	if p.Embed != nil {
		lines = append(lines, r.embedLines(ctx, p.Embed)...)
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) embedLines(ctx context.Context, e *embedView) []string {
	var lines []string

	if ext := e.External; ext != nil && ext.URI != "" {
		title := ext.Title
		if title == "" {
			title = "Link"
		}
		lines = append(lines, fmt.Sprintf("[%s](%s)", title, ext.URI))
		if ext.Description != "" {
			lines = append(lines, "> "+ext.Description)
		}
		if ext.Thumb != "" && r.media != nil {
			thumb := ext.Thumb
			if local, ok := r.save(ctx, ext.Thumb, "thumb_"); ok {
				thumb = local
			}
			lines = append(lines, fmt.Sprintf("![thumbnail](%s)", thumb))
		}
	}

	for i, img := range e.Images {
		if img.Fullsize == "" {
			continue
		}
		local, ok := r.save(ctx, img.Fullsize, fmt.Sprintf("img_%d_", i))
		if !ok {
			lines = append(lines, fmt.Sprintf("![Image %d](%s)", i+1, img.Fullsize))
			continue
		}
		alt := img.Alt
		if alt == "" {
			alt = fmt.Sprintf("Image %d", i+1)
		}
		lines = append(lines, fmt.Sprintf("![%s](%s)", alt, local))
	}

	video := e.videoView
	if e.Video != nil {
		video = *e.Video
	}
	if video.Playlist != "" {
		lines = append(lines, fmt.Sprintf("[Video](%s)", video.Playlist))
	}
	if video.Thumbnail != "" {
		if local, ok := r.save(ctx, video.Thumbnail, "video_thumb_"); ok {
			lines = append(lines, fmt.Sprintf("![video thumbnail](%s)", local))
		}
	}
	return lines
}

// save stores rawURL through the media saver. Failures are logged and
// reported as not ok.
func (r *Renderer) save(ctx context.Context, rawURL, prefix string) (string, bool) {
	if r.media == nil {
		return "", false
	}
	local, err := r.media.Save(ctx, rawURL, prefix)
	if err != nil {
		r.logger.WarnWithFields("failed to download media", map[string]interface{}{
			"url":   rawURL,
			"error": err.Error(),
		})
		return "", false
	}
	return local, true
}

// ConvertDir renders every *.json file below in to a .md file at the same
// relative path below out. It returns the number of files written.
func (r *Renderer) ConvertDir(ctx context.Context, in, out string) (int, error) {
	outAbs, err := filepath.Abs(out)
	if err != nil {
		return 0, err
	}

	var files []string
	err = filepath.WalkDir(in, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if abs, aerr := filepath.Abs(p); aerr == nil && abs == outAbs {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".json") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", in, err)
	}

	r.logger.InfoWithFields("converting JSON files to Markdown", map[string]interface{}{
		"input": in,
		"files": len(files),
	})

	for i, src := range files {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		rel, err := filepath.Rel(in, src)
		if err != nil {
			return i, err
		}
		if i == 0 || (i+1)%10 == 0 {
			r.logger.InfoWithFields("converting file", map[string]interface{}{
				"file":  rel,
				"index": i + 1,
				"total": len(files),
			})
		}

		data, err := os.ReadFile(src)
		if err != nil {
			return i, fmt.Errorf("failed to read %s: %w", src, err)
		}
		dst := filepath.Join(out, strings.TrimSuffix(rel, ".json")+".md")
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return i, fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
		}
		if err := os.WriteFile(dst, []byte(r.Render(ctx, data)+"\n"), 0644); err != nil {
			return i, fmt.Errorf("failed to write %s: %w", dst, err)
		}
	}
	return len(files), nil
}

// MediaDownloader saves media into a local directory, naming each file
// after a hash of its URL so repeated links are fetched once.
type MediaDownloader struct {
	dir    string
	client *http.Client
	retry  *retry.Config
	logger logger.Logger
}

// NewMediaDownloader creates a downloader writing into dir
func NewMediaDownloader(dir string, client *http.Client, retryCfg *retry.Config, log logger.Logger) *MediaDownloader {
	if client == nil {
		client = http.DefaultClient
	}
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &MediaDownloader{dir: dir, client: client, retry: retryCfg, logger: log}
}

// MediaName returns the file name rawURL is stored under
func MediaName(rawURL, prefix string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("not an http media URL: %q", rawURL)
	}
	sum := md5.Sum([]byte(rawURL))
	ext := path.Ext(u.Path)
	if ext == "" {
		ext = ".jpg"
	}
	return prefix + hex.EncodeToString(sum[:])[:8] + ext, nil
}

// Save downloads rawURL unless it is already present and returns its path
// relative to the Markdown output directory.
func (m *MediaDownloader) Save(ctx context.Context, rawURL, prefix string) (string, error) {
	name, err := MediaName(rawURL, prefix)
	if err != nil {
		return "", err
	}
	rel := MediaDirName + "/" + name
	dst := filepath.Join(m.dir, name)
	if _, err := os.Stat(dst); err == nil {
		return rel, nil
	}

	data, err := retry.DoWithResult(ctx, m.retry, func() ([]byte, error) {
		return m.fetch(ctx, rawURL)
	})
	if err != nil {
		return "", err
	}
	if err := writeAtomic(dst, data); err != nil {
		return "", err
	}

	m.logger.DebugWithFields("media saved", map[string]interface{}{
		"url":  rawURL,
		"file": name,
		"size": len(data),
	})
	return rel, nil
}

func (m *MediaDownloader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeInvalid, 0, fmt.Sprintf("failed to create request: %v", err))
	}
	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.New(errs.ErrorTypeNetwork, 0, fmt.Sprintf("network error: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, errs.FromResponse(resp.StatusCode, "", "")
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaSize+1))
	if err != nil {
		return nil, errs.New(errs.ErrorTypeNetwork, resp.StatusCode, fmt.Sprintf("failed to read media: %v", err))
	}
	if len(data) > maxMediaSize {
		return nil, errs.New(errs.ErrorTypeInvalid, resp.StatusCode, "media file too large")
	}
	return data, nil
}

// writeAtomic writes data to a temporary file next to dst and renames it
// into place.
func writeAtomic(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create media directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save %s: %w", dst, err)
	}
	return nil
}
