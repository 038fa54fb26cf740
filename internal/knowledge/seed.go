// Package knowledge loads static knowledge into the store and provides the
// read-through cache used by callers that match questions locally.
package knowledge

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/frontdesk/internal/matcher"
	"github.com/kalambet/frontdesk/internal/storage"
)

//go:embed salon.yaml
var salonYAML []byte

// Entry is one static question/answer pair.
type Entry struct {
	Question string `yaml:"question" json:"question"`
	Answer   string `yaml:"answer" json:"answer"`
}

type seedFile struct {
	Entries []Entry `yaml:"entries" json:"entries"`
}

// Format is a seed file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatText Format = "text"
	FormatPDF  Format = "pdf"
)

// FormatFromPath picks a Format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".txt", ".md":
		return FormatText, nil
	case ".pdf":
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported seed file type %q", filepath.Ext(path))
	}
}

// DefaultSalon returns the built-in salon knowledge.
func DefaultSalon() []Entry {
	entries, err := Parse(bytes.NewReader(salonYAML), FormatYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded salon knowledge is invalid: %v", err))
	}
	return entries
}

// LoadFile reads entries from a YAML, JSON, text or PDF file.
func LoadFile(path string) ([]Entry, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	if format == FormatPDF {
		entries, err = loadPDF(path)
	} else {
		entries, err = parseFile(path, format)
	}
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptySeed)
	}
	return entries, nil
}

func parseFile(path string, format Format) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening seed file: %w", err)
	}
	defer f.Close()
	return Parse(f, format)
}

// Parse decodes entries from r. YAML and JSON accept either a bare list or
// an object with an "entries" list. Text uses "Q:" / "A:" line pairs.
func Parse(r io.Reader, format Format) ([]Entry, error) {
	var entries []Entry
	switch format {
	case FormatYAML:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading yaml: %w", err)
		}
		var doc seedFile
		if err := yaml.Unmarshal(data, &doc); err != nil {
			if err := yaml.Unmarshal(data, &entries); err != nil {
				return nil, fmt.Errorf("parsing yaml: %w", err)
			}
		} else {
			entries = doc.Entries
		}
	case FormatJSON:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading json: %w", err)
		}
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &entries); err != nil {
				return nil, fmt.Errorf("parsing json: %w", err)
			}
		} else {
			var doc seedFile
			if err := json.Unmarshal(trimmed, &doc); err != nil {
				return nil, fmt.Errorf("parsing json: %w", err)
			}
			entries = doc.Entries
		}
	case FormatText:
		var err error
		if entries, err = parseText(r); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	return validate(entries)
}

func validate(entries []Entry) ([]Entry, error) {
	out := make([]Entry, 0, len(entries))
	for i, e := range entries {
		e.Question = strings.TrimSpace(e.Question)
		e.Answer = strings.TrimSpace(e.Answer)
		if e.Question == "" || e.Answer == "" {
			return nil, fmt.Errorf("entry %d: question and answer are required", i+1)
		}
		out = append(out, e)
	}
	return out, nil
}

// parseText reads "Q: ..." / "A: ..." pairs. Continuation lines extend the
// current question or answer; blank lines are ignored.
func parseText(r io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		cur     Entry
		field   *string
	)
	flush := func() {
		if cur.Question != "" || cur.Answer != "" {
			entries = append(entries, cur)
		}
		cur = Entry{}
		field = nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case hasPrefixFold(line, "Q:"):
			flush()
			cur.Question = strings.TrimSpace(line[2:])
			field = &cur.Question
		case hasPrefixFold(line, "A:"):
			cur.Answer = strings.TrimSpace(line[2:])
			field = &cur.Answer
		case field != nil:
			*field = strings.TrimSpace(*field + " " + line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading text: %w", err)
	}
	flush()
	return entries, nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func loadPDF(path string) ([]Entry, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	text, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extracting pdf text: %w", err)
	}
	entries, err := parseText(text)
	if err != nil {
		return nil, err
	}
	return validate(entries)
}

// Store is what Seed needs from the knowledge store.
type Store interface {
	InsertKnowledge(ctx context.Context, question, answer, sourceRequestID string) (storage.KnowledgeEntry, error)
	ListKnowledge(ctx context.Context, limit, offset int) ([]storage.KnowledgeEntry, error)
}

// SeedResult reports what Seed did.
type SeedResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

const seedConcurrency = 4

// Seed inserts entries whose question is not already in the store, so
// re-running a seed does not duplicate static knowledge. Inserts run with
// bounded concurrency.
func Seed(ctx context.Context, store Store, entries []Entry) (SeedResult, error) {
	existing, err := loadAll(ctx, store)
	if err != nil {
		return SeedResult{}, fmt.Errorf("listing existing knowledge: %w", err)
	}
	seen := make(map[string]struct{}, len(existing)+len(entries))
	for _, e := range existing {
		seen[matcher.Normalize(e.Question)] = struct{}{}
	}

	var todo []Entry
	var res SeedResult
	for _, e := range entries {
		key := matcher.Normalize(e.Question)
		if _, dup := seen[key]; dup || key == "" {
			res.Skipped++
			continue
		}
		seen[key] = struct{}{}
		todo = append(todo, e)
	}

	var inserted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(seedConcurrency)
	for _, e := range todo {
		g.Go(func() error {
			if _, err := store.InsertKnowledge(gctx, e.Question, e.Answer, ""); err != nil {
				return fmt.Errorf("inserting %q: %w", e.Question, err)
			}
			inserted.Add(1)
			return nil
		})
	}
	err = g.Wait()
	res.Inserted = int(inserted.Load())
	return res, err
}

const pageSize = 500

// loadAll pages through every stored entry.
func loadAll(ctx context.Context, src Source) ([]storage.KnowledgeEntry, error) {
	var all []storage.KnowledgeEntry
	for offset := 0; ; offset += pageSize {
		page, err := src.ListKnowledge(ctx, pageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// ErrEmptySeed is returned when a seed source holds no entries.
var ErrEmptySeed = errors.New("seed contains no entries")
