// Package source turns flattened device-structure files into request texts.
//
// Each file in the devices directory holds one device collection rendered as
// text documents separated by a separator line. Documents are grouped into
// requests of a fixed size, and each request gets a custom_id derived from the
// file stem, the request's 1-based index and the sample type.
package source

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// GenericText is the device text of a generic request.
const GenericText = " "

// Request is one unit of prompt input.
type Request struct {
	ID    string // custom_id
	Stem  string // source file stem ("" for generic requests)
	Index int    // 1-based request index within the file
	Text  string // joined document text
}

// Reader walks a devices directory.
type Reader struct {
	Dir                 string
	Separator           string
	DocumentsPerRequest int
	Extensions          []string // defaults to .txt
	Logger              *slog.Logger
}

// MaxIDLength is the longest custom_id every provider accepts.
const MaxIDLength = 64

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// RequestID builds the custom_id of a device request. Characters outside
// [A-Za-z0-9_-] in the stem become "-". A stem that would push the id past
// MaxIDLength is shortened and tagged with a hash of the original stem.
func RequestID(stem string, index int, sampleType string) string {
	suffix := fmt.Sprintf("_finetune_%d_%s", index, sampleType)
	clean := unsafeIDChars.ReplaceAllString(stem, "-")
	if len(clean)+len(suffix) <= MaxIDLength {
		return clean + suffix
	}
	sum := sha256.Sum256([]byte(stem))
	tag := "-" + hex.EncodeToString(sum[:4])
	keep := max(MaxIDLength-len(suffix)-len(tag), 0)
	return clean[:min(keep, len(clean))] + tag + suffix
}

// GenericRequest returns the single placeholder request of a generic sample type.
func GenericRequest(sampleType string) Request {
	return Request{
		ID:    fmt.Sprintf("%s_generic_%s", sampleType, uuid.NewString()[:8]),
		Index: 1,
		Text:  GenericText,
	}
}

// Files returns the device files in numeric-suffix order.
func (r *Reader) Files() ([]string, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read devices directory: %w", err)
	}

	exts := r.Extensions
	if len(exts) == 0 {
		exts = []string{".txt"}
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		for _, want := range exts {
			if strings.EqualFold(ext, want) {
				paths = append(paths, filepath.Join(r.Dir, e.Name()))
				break
			}
		}
	}
	return sortByNumber(paths), nil
}

// Requests yields the requests of every device file for a sample type.
// A file that cannot be read is reported and iteration continues.
func (r *Reader) Requests(sampleType string) iter.Seq2[Request, error] {
	return func(yield func(Request, error) bool) {
		files, err := r.Files()
		if err != nil {
			yield(Request{}, err)
			return
		}
		for _, path := range files {
			reqs, err := r.fileRequests(path, sampleType)
			if err != nil {
				if !yield(Request{}, err) {
					return
				}
				continue
			}
			if len(reqs) == 0 {
				r.logger().Warn("no documents in device file", "path", path)
			}
			for _, req := range reqs {
				if !yield(req, nil) {
					return
				}
			}
		}
	}
}

func (r *Reader) fileRequests(path, sampleType string) ([]Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read device file %s: %w", path, err)
	}

	docs := SplitDocuments(string(data), r.Separator)
	per := r.DocumentsPerRequest
	if per <= 0 {
		per = 3
	}
	stem := Stem(path)

	var reqs []Request
	for i := 0; i < len(docs); i += per {
		end := min(i+per, len(docs))
		index := i/per + 1
		reqs = append(reqs, Request{
			ID:    RequestID(stem, index, sampleType),
			Stem:  stem,
			Index: index,
			Text:  strings.Join(docs[i:end], "\n\n"),
		})
	}
	return reqs, nil
}

func (r *Reader) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// SplitDocuments splits text on lines equal to sep (surrounding whitespace ignored).
// Blank documents are dropped. An empty sep yields the whole text as one document.
func SplitDocuments(text, sep string) []string {
	var (
		docs    []string
		current strings.Builder
	)
	flush := func() {
		doc := strings.TrimSpace(current.String())
		if doc != "" {
			docs = append(docs, doc)
		}
		current.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if sep != "" && strings.TrimSpace(line) == sep {
			flush()
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	flush()
	return docs
}

// Stem returns the file name without its extension.
// e.g., "devices/home-2.txt" -> "home-2"
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var numberSuffix = regexp.MustCompile(`(\d+)\.[^.]+$`)

// sortByNumber sorts paths by their numeric suffix.
// e.g., ["home-2.txt", "home-1.txt", "home-10.txt"] -> ["home-1.txt", "home-2.txt", "home-10.txt"]
func sortByNumber(paths []string) []string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)

	sort.SliceStable(sorted, func(i, j int) bool {
		mi := numberSuffix.FindStringSubmatch(filepath.Base(sorted[i]))
		mj := numberSuffix.FindStringSubmatch(filepath.Base(sorted[j]))

		if len(mi) > 1 && len(mj) > 1 {
			pi := strings.TrimSuffix(filepath.Base(sorted[i]), mi[0])
			pj := strings.TrimSuffix(filepath.Base(sorted[j]), mj[0])
			if pi == pj {
				ni, _ := strconv.Atoi(mi[1])
				nj, _ := strconv.Atoi(mj[1])
				return ni < nj
			}
		}
		return sorted[i] < sorted[j]
	})

	return sorted
}
