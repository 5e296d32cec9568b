// Package scripts maintains the catalog of executable scripts exposed by the
// gateway: discovery on disk, metadata parsing, tag filtering and the
// execution bridge that runs a script as a child process.
package scripts

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Output modes a script can declare.
const (
	OutputCombined = "combined"
	OutputSeparate = "separate"
)

// Descriptor is the metadata record for one registered script. Instances are
// created at collection build time and never mutated afterwards; a reload
// produces a fresh set.
type Descriptor struct {
	Name       string   `json:"name"`
	HTTPMethod string   `json:"http_method"`
	Output     string   `json:"output"`
	Tags       []string `json:"tags"`

	// Path is the absolute location of the executable. Timeout overrides the
	// runner's default when non-zero. Neither is caller-visible metadata.
	Path    string        `json:"-"`
	Timeout time.Duration `json:"-"`
}

var nameRegexp = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// header is the YAML metadata block embedded in a script file. Every field is
// optional; zero values fall back to defaults in parseDescriptor.
type header struct {
	Name       string   `yaml:"name"`
	HTTPMethod string   `yaml:"http_method"`
	Output     string   `yaml:"output"`
	Tags       []string `yaml:"tags"`
	Timeout    string   `yaml:"timeout"`
}

const headerDelimiter = "# ---"

// readHeader extracts the commented YAML block from the top of a script file.
// The block sits between two "# ---" lines, after an optional shebang. A file
// without a block yields an empty string.
func readHeader(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	in := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#!") {
			continue
		}
		if strings.TrimRight(line, " ") == headerDelimiter {
			if in {
				return b.String(), nil
			}
			in = true
			continue
		}
		if !in {
			if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
				continue
			}
			// Reached code before any metadata block.
			return "", nil
		}
		if !strings.HasPrefix(line, "#") {
			return "", fmt.Errorf("metadata block not terminated with %q", headerDelimiter)
		}
		b.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "#"), " "))
		b.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if in {
		return "", fmt.Errorf("metadata block not terminated with %q", headerDelimiter)
	}
	return "", nil
}

// parseDescriptor builds a Descriptor for the script at path. fallbackName is
// the file's base name, used when the header does not set one.
func parseDescriptor(path, fallbackName string, defaultTimeout time.Duration) (*Descriptor, error) {
	block, err := readHeader(path)
	if err != nil {
		return nil, err
	}

	var h header
	if block != "" {
		dec := yaml.NewDecoder(strings.NewReader(block))
		dec.KnownFields(true)
		if err := dec.Decode(&h); err != nil {
			return nil, fmt.Errorf("invalid metadata: %w", err)
		}
	}

	d := &Descriptor{
		Name:       h.Name,
		HTTPMethod: strings.ToLower(h.HTTPMethod),
		Output:     strings.ToLower(h.Output),
		Tags:       h.Tags,
		Path:       path,
		Timeout:    defaultTimeout,
	}
	if d.Name == "" {
		d.Name = fallbackName
	}
	if d.HTTPMethod == "" {
		d.HTTPMethod = "get"
	}
	if d.Output == "" {
		d.Output = OutputCombined
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}

	if !nameRegexp.MatchString(d.Name) {
		return nil, fmt.Errorf("invalid script name %q", d.Name)
	}
	switch d.HTTPMethod {
	case "get", "post", "put", "delete":
	default:
		return nil, fmt.Errorf("invalid http_method %q", h.HTTPMethod)
	}
	switch d.Output {
	case OutputCombined, OutputSeparate:
	default:
		return nil, fmt.Errorf("invalid output %q", h.Output)
	}
	if h.Timeout != "" {
		t, err := time.ParseDuration(h.Timeout)
		if err != nil || t <= 0 {
			return nil, fmt.Errorf("invalid timeout %q", h.Timeout)
		}
		d.Timeout = t
	}

	return d, nil
}
