package room

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

type Type string

const (
	Public  Type = "public"
	Private Type = "private"
)

type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      Type      `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	// Members is only meaningful for private rooms; public rooms are open
	// to everyone and carry no list.
	Members []string `json:"members,omitempty"`
	// UserCount is a cache of live presence. It is rewritten on every serve
	// path and must never be trusted between writes.
	UserCount int `json:"userCount"`
}

// VisibleTo is the single visibility rule of the system: public rooms are
// visible to everyone, private rooms only to their members. Both the query
// path and the broadcast fan-out go through it.
func (r *Room) VisibleTo(viewer string) bool {
	if r.Type != Private {
		return true
	}
	for _, m := range r.Members {
		if m == viewer {
			return true
		}
	}
	return false
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify normalizes a public room name ("General Chat!" -> "general-chat").
func Slugify(name string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(s, "-")
}

// DisplayName derives a private room's name from its member set. Sorting
// makes the name deterministic: any two rooms over the same members render
// identically, even though each creation still gets its own id.
func DisplayName(members []string) string {
	sorted := make([]string, len(members))
	copy(sorted, members)
	sort.Strings(sorted)
	for i, m := range sorted {
		sorted[i] = "@" + m
	}
	return strings.Join(sorted, ", ")
}
