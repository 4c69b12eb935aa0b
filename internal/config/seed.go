package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ReadSeedFile reads seed URLs from path, one per line. Blank lines and
// lines starting with # are skipped. URLs are returned as written; the
// frontier normalizes them.
func ReadSeedFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided seed path is intentional
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	var seeds []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seeds = append(seeds, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return seeds, nil
}
