// Package export turns downloaded entities into browsable files: a folder
// tree mirroring a JSON document, and Markdown renderings of posts.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rivo/uniseg"

	"bskyarchive/pkg/kvstore"
)

const (
	// maxNameLength bounds file and folder names, in characters.
	maxNameLength = 200
	// inlineLimit is the encoded size above which a nested value at the
	// depth limit gets its own JSON file.
	inlineLimit = 1000
	// textLimit is the length above which a string is stored as .text.
	textLimit = 100
)

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	separators  = regexp.MustCompile(`[_\s]+`)
)

// identityKeys name an object inside a list, in order of preference.
var identityKeys = []string{"handle", "did", "uri", "name", "display_name", "title", "id"}

// TreeStats counts what WriteTree created
type TreeStats struct {
	Files int
	Dirs  int
}

// SanitizeName makes s usable as a single file or folder name
func SanitizeName(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = separators.ReplaceAllString(s, "_")
	s = strings.Trim(s, " .")
	s = truncate(s, maxNameLength)
	if s == "" {
		return "unnamed"
	}
	return s
}

// truncate keeps at most n characters without splitting a grapheme cluster
func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	var b strings.Builder
	count := 0
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		runes := g.Runes()
		if count+len(runes) > n {
			break
		}
		count += len(runes)
		b.WriteString(g.Str())
	}
	return b.String()
}

// OutputDir returns <base>/<entity>_<identifier>_<YYYYMMDD_HHMMSS>
func OutputDir(base, entity, identifier string, now time.Time) string {
	if identifier == "" {
		identifier = "unknown"
	}
	name := fmt.Sprintf("%s_%s_%s", entity, SanitizeName(identifier), now.Format("20060102_150405"))
	return filepath.Join(base, name)
}

// WriteTree writes the JSON document data below dir. Objects become one
// folder per key and arrays one folder per element until maxDepth levels
// are used; deeper values go into files whose extension tells their type.
func WriteTree(dir string, data []byte, maxDepth int) (TreeStats, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return TreeStats{}, fmt.Errorf("failed to decode document: %w", err)
	}

	t := &treeWriter{store: kvstore.New(dir), root: dir, maxDepth: max(maxDepth, 0)}
	if err := t.write(doc, "", 0, ""); err != nil {
		return t.stats, err
	}
	return t.stats, nil
}

type treeWriter struct {
	store    *kvstore.Store
	root     string
	maxDepth int
	stats    TreeStats
}

func (t *treeWriter) mkdir(dir string) error {
	full := filepath.Join(t.root, filepath.FromSlash(dir))
	if _, err := os.Stat(full); err == nil {
		return nil
	}
	if err := os.MkdirAll(full, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", full, err)
	}
	t.stats.Dirs++
	return nil
}

// write places v in dir. parentKey names primitives and depth-limited
// arrays.
func (t *treeWriter) write(v any, dir string, depth int, parentKey string) error {
	if err := t.mkdir(dir); err != nil {
		return err
	}

	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		if depth >= t.maxDepth {
			for _, k := range keys {
				if err := t.writeLeaf(dir, k, val[k]); err != nil {
					return err
				}
			}
			return nil
		}
		for _, k := range keys {
			if err := t.write(val[k], path.Join(dir, SanitizeName(k)), depth+1, k); err != nil {
				return err
			}
		}
		return nil

	case []any:
		if depth >= t.maxDepth {
			if parentKey == "" {
				parentKey = "list"
			}
			return t.saveJSON(path.Join(dir, SanitizeName(parentKey)+"_chunk.json"), val)
		}
		for i, item := range val {
			name := itemName(item, i)
			if err := t.write(item, path.Join(dir, name), depth+1, fmt.Sprintf("item_%d", i)); err != nil {
				return err
			}
		}
		return nil

	default:
		if parentKey == "" {
			parentKey = "value"
		}
		return t.writeFile(path.Join(dir, leafName(parentKey, val)), scalarText(val))
	}
}

// writeLeaf stores one member of an object at the depth limit
func (t *treeWriter) writeLeaf(dir, key string, v any) error {
	switch v.(type) {
	case map[string]any, []any:
		compact, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", key, err)
		}
		if len(compact) > inlineLimit {
			return t.saveJSON(path.Join(dir, SanitizeName(key)+".json"), v)
		}
		return t.writeFile(path.Join(dir, leafName(key, v)), string(compact))
	default:
		return t.writeFile(path.Join(dir, leafName(key, v)), scalarText(v))
	}
}

func (t *treeWriter) saveJSON(key string, v any) error {
	if err := t.store.Save(key, v); err != nil {
		return err
	}
	t.stats.Files++
	return nil
}

func (t *treeWriter) writeFile(key, content string) error {
	full := filepath.Join(t.root, filepath.FromSlash(key))
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", full, err)
	}
	t.stats.Files++
	return nil
}

// itemName names the folder of the i-th element of an array after the
// first identifying field it carries.
func itemName(item any, i int) string {
	if obj, ok := item.(map[string]any); ok {
		for _, k := range identityKeys {
			s := stringValue(obj[k])
			if s == "" {
				continue
			}
			if k == "uri" && strings.Contains(s, "/") {
				s = s[strings.LastIndex(s, "/")+1:]
			}
			return fmt.Sprintf("%04d_%s", i, SanitizeName(s))
		}
		for _, k := range []string{"post", "author", "feed"} {
			if _, ok := obj[k]; ok {
				return fmt.Sprintf("%04d_%s", i, k)
			}
		}
	}
	return fmt.Sprintf("%04d_item", i)
}

// stringValue renders truthy scalars; empty strings, false, zero and
// containers yield "".
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		if val.String() == "0" {
			return ""
		}
		return val.String()
	case bool:
		if val {
			return "true"
		}
	}
	return ""
}

// leafName is key plus an extension describing v
func leafName(key string, v any) string {
	base := "data"
	if key != "" {
		base = SanitizeName(key)
	}
	return base + "." + extension(v)
}

func extension(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case json.Number:
		if strings.ContainsAny(val.String(), ".eE") {
			return "float"
		}
		return "int"
	case string:
		switch {
		case strings.HasPrefix(val, "http://"), strings.HasPrefix(val, "https://"):
			return "url"
		case strings.HasPrefix(val, "at://"):
			return "at_uri"
		case strings.Contains(val, "@") && strings.Contains(val, "."):
			return "handle"
		case strings.HasPrefix(val, "did:"):
			return "did"
		case len([]rune(val)) > textLimit:
			return "text"
		default:
			return "str"
		}
	}
	return "txt"
}

func scalarText(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		if val {
			return "true"
		}
		return "false"
	case json.Number:
		return val.String()
	case string:
		return val
	}
	return fmt.Sprint(v)
}
