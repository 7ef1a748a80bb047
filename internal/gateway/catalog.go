package gateway

import (
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"

	"github.com/amoylab/hostlink/internal/protocol"
	"golang.org/x/crypto/sha3"
)

var (
	actionSlugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)
	groupSlugPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]+(/[A-Za-z0-9_-]+)*$`)
)

// catalog is the validated action and group set a Host declared
type catalog struct {
	actions []protocol.ActionDefinition
	groups  []protocol.PageDefinition
	invalid []string
}

// newCatalog drops definitions with unusable slugs and adds the groups that
// actions reference without declaring
func newCatalog(req protocol.InitializeHostRequest) *catalog {
	c := &catalog{}
	declared := make(map[string]bool, len(req.Groups))
	for _, g := range req.Groups {
		if !groupSlugPattern.MatchString(g.Slug) || len(g.Slug) > 255 {
			c.invalid = append(c.invalid, g.Slug)
			continue
		}
		if declared[g.Slug] {
			continue
		}
		declared[g.Slug] = true
		c.groups = append(c.groups, g)
	}

	seen := make(map[string]bool, len(req.Actions))
	for _, a := range req.Actions {
		if !actionSlugPattern.MatchString(a.Slug) {
			c.invalid = append(c.invalid, a.Slug)
			continue
		}
		if a.GroupSlug != "" && !groupSlugPattern.MatchString(a.GroupSlug) {
			c.invalid = append(c.invalid, a.GroupSlug+"/"+a.Slug)
			continue
		}
		key := a.GroupSlug + "/" + a.Slug
		if seen[key] {
			continue
		}
		seen[key] = true
		c.actions = append(c.actions, a)
		if a.GroupSlug != "" && !declared[a.GroupSlug] {
			declared[a.GroupSlug] = true
			c.groups = append(c.groups, protocol.PageDefinition{Slug: a.GroupSlug, Name: a.GroupSlug})
		}
	}
	return c
}

// hash fingerprints the catalog independent of declaration order
func (c *catalog) hash() string {
	actions := append([]protocol.ActionDefinition(nil), c.actions...)
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].GroupSlug != actions[j].GroupSlug {
			return actions[i].GroupSlug < actions[j].GroupSlug
		}
		return actions[i].Slug < actions[j].Slug
	})
	groups := append([]protocol.PageDefinition(nil), c.groups...)
	sort.Slice(groups, func(i, j int) bool { return groups[i].Slug < groups[j].Slug })

	data, _ := json.Marshal(struct {
		Actions []protocol.ActionDefinition `json:"a"`
		Groups  []protocol.PageDefinition   `json:"g"`
	}{actions, groups})
	sum := sha3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
