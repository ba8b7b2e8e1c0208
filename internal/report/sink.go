package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"
)

var (
	ErrArtifactNotFound = errors.New("report not found")
	ErrInvalidKey       = errors.New("invalid report key")
)

var keyRe = regexp.MustCompile(`^(\d{4})-(\d{2})$`)
var fileRe = regexp.MustCompile(`^inasistentes_(\d{4})_(\d{2})\.pdf$`)

// Artifact describes one stored report.
type Artifact struct {
	Key      string    `json:"key"` // "YYYY-MM"
	Filename string    `json:"filename"`
	Month    string    `json:"month_name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"created"`
}

// FileSink keeps one PDF per month in Dir. Writing a key that
// already exists replaces the file.
type FileSink struct {
	dir string
	mu  sync.Mutex
}

func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		dir = "./monthly_reports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) Dir() string { return s.dir }

// Write stores body under key through a temp file and rename, so readers
// never see a half-written report.
func (s *FileSink) Write(key string, body []byte) (Artifact, error) {
	name, err := filename(key)
	if err != nil {
		return Artifact{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return Artifact{}, err
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return Artifact{}, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return Artifact{}, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return Artifact{}, err
	}
	return s.stat(name)
}

// List returns stored reports, newest month first.
func (s *FileSink) List() ([]Artifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := make([]Artifact, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !fileRe.MatchString(e.Name()) {
			continue
		}
		a, err := s.stat(e.Name())
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key > out[j].Key })
	return out, nil
}

// Open reads the report stored under key.
func (s *FileSink) Open(key string) (Artifact, []byte, error) {
	name, err := filename(key)
	if err != nil {
		return Artifact{}, nil, err
	}
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return Artifact{}, nil, ErrArtifactNotFound
	}
	if err != nil {
		return Artifact{}, nil, err
	}
	a, err := s.stat(name)
	if err != nil {
		return Artifact{}, nil, err
	}
	return a, b, nil
}

func (s *FileSink) stat(name string) (Artifact, error) {
	fi, err := os.Stat(filepath.Join(s.dir, name))
	if err != nil {
		return Artifact{}, err
	}
	m := fileRe.FindStringSubmatch(name)
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	return Artifact{
		Key:      m[1] + "-" + m[2],
		Filename: name,
		Month:    MonthLabel(year, time.Month(month)),
		Size:     fi.Size(),
		Modified: fi.ModTime(),
	}, nil
}

// filename maps "YYYY-MM" to "inasistentes_YYYY_MM.pdf".
func filename(key string) (string, error) {
	m := keyRe.FindStringSubmatch(key)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if mo, _ := strconv.Atoi(m[2]); mo < 1 || mo > 12 {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return "inasistentes_" + m[1] + "_" + m[2] + ".pdf", nil
}
