// Package vocab loads the class vocabulary shared by the detector and the
// effect registry. Line i of a vocabulary file (blank lines and #-comments
// excluded) names class id i of the detection model.
package vocab

import (
	"bufio"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
)

//go:embed coco.txt
var coco string

// ErrEmpty is returned when a vocabulary contains no labels.
var ErrEmpty = errors.New("vocab: no labels")

// Vocabulary maps class ids to labels and back.
type Vocabulary struct {
	labels []string
	index  map[string]int
}

// Normalize trims surrounding whitespace and applies Unicode NFC so labels
// typed in different editors compare equal to shader file names.
func Normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// New builds a vocabulary from labels in class-id order.
func New(labels []string) (*Vocabulary, error) {
	v := &Vocabulary{index: make(map[string]int, len(labels))}
	for _, l := range labels {
		l = Normalize(l)
		if l == "" {
			continue
		}
		if prev, dup := v.index[l]; dup {
			return nil, fmt.Errorf("vocab: label %q repeated at ids %d and %d", l, prev, len(v.labels))
		}
		v.index[l] = len(v.labels)
		v.labels = append(v.labels, l)
	}
	if len(v.labels) == 0 {
		return nil, ErrEmpty
	}
	return v, nil
}

// Parse reads newline-delimited labels.
func Parse(r io.Reader) (*Vocabulary, error) {
	var labels []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("vocab: read: %w", err)
	}
	return New(labels)
}

// Load reads a vocabulary file.
func Load(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// COCO returns the 80-class COCO vocabulary used by the stock YOLOv8 models.
func COCO() *Vocabulary {
	v, err := Parse(strings.NewReader(coco))
	if err != nil {
		panic(err)
	}
	return v
}

// Len returns the number of labels.
func (v *Vocabulary) Len() int { return len(v.labels) }

// Label returns the label for a class id.
func (v *Vocabulary) Label(id int) (string, bool) {
	if id < 0 || id >= len(v.labels) {
		return "", false
	}
	return v.labels[id], true
}

// ID returns the class id of a label.
func (v *Vocabulary) ID(label string) (int, bool) {
	id, ok := v.index[Normalize(label)]
	return id, ok
}

// Has reports whether label is in the vocabulary.
func (v *Vocabulary) Has(label string) bool {
	_, ok := v.ID(label)
	return ok
}

// Labels returns a copy of the labels in id order.
func (v *Vocabulary) Labels() []string {
	return append([]string(nil), v.labels...)
}
