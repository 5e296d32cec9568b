package scripts

import (
	"net/url"
	"strings"
)

// TagQuery filters scripts by tag membership. Only one of the three groups is
// ever populated: ParseTagQuery honors the first non-empty query argument in
// the order tags, not_tags, any_tags. The zero value matches every script.
type TagQuery struct {
	All  []string // every tag must be present
	None []string // no tag may be present
	Any  []string // at least one tag must be present
}

// ParseTagQuery builds a TagQuery from query-string values. The arguments are
// comma-separated lists; empty elements are dropped.
func ParseTagQuery(v url.Values) TagQuery {
	var q TagQuery
	for _, arg := range []string{"tags", "not_tags", "any_tags"} {
		tags := splitTags(v.Get(arg))
		if len(tags) == 0 {
			continue
		}
		switch arg {
		case "tags":
			q.All = tags
		case "not_tags":
			q.None = tags
		case "any_tags":
			q.Any = tags
		}
		break
	}
	return q
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// Match reports whether a script carrying tags satisfies the query.
func (q TagQuery) Match(tags []string) bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	switch {
	case len(q.All) > 0:
		for _, t := range q.All {
			if !set[t] {
				return false
			}
		}
		return true
	case len(q.None) > 0:
		for _, t := range q.None {
			if set[t] {
				return false
			}
		}
		return true
	case len(q.Any) > 0:
		for _, t := range q.Any {
			if set[t] {
				return true
			}
		}
		return false
	}
	return true
}
