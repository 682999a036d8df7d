package pdfops

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParsePages parses a page selection like "1,3,5-8" into a sorted list of
// unique 1-indexed page numbers. Reversed ranges are accepted ("8-5" means
// 5 through 8) and values are clamped to [1, maxPage]. A maxPage of 0 means
// no upper bound. An empty selection returns nil, meaning all pages.
func ParsePages(sel string, maxPage int) ([]int, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return nil, nil
	}

	seen := map[int]bool{}
	for _, part := range strings.Split(sel, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, err := parseRange(part)
		if err != nil {
			return nil, err
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		if lo < 1 {
			lo = 1
		}
		if maxPage > 0 && hi > maxPage {
			hi = maxPage
		}
		for p := lo; p <= hi; p++ {
			seen[p] = true
		}
	}

	if len(seen) == 0 {
		return nil, fmt.Errorf("page selection %q matches no pages", sel)
	}
	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages, nil
}

func parseRange(part string) (int, int, error) {
	if lo, hi, ok := strings.Cut(part, "-"); ok {
		a, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return 0, 0, fmt.Errorf("bad page range %q: %w", part, err)
		}
		b, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return 0, 0, fmt.Errorf("bad page range %q: %w", part, err)
		}
		return a, b, nil
	}
	n, err := strconv.Atoi(part)
	if err != nil {
		return 0, 0, fmt.Errorf("bad page number %q: %w", part, err)
	}
	return n, n, nil
}
