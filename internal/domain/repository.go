package domain

import "strings"

// DefaultForge is the host used when a repository or tracker does not name one
const DefaultForge = "github.com"

// Repository represents a forge repository watched by a pull request bot
type Repository struct {
	Name     string // configuration alias
	Forge    string // forge host, e.g. "github.com"
	FullName string // owner/repo
}

// Owner returns the owner part of FullName
func (r *Repository) Owner() string {
	owner, _, _ := strings.Cut(r.FullName, "/")
	return owner
}

// Repo returns the repository part of FullName
func (r *Repository) Repo() string {
	_, repo, _ := strings.Cut(r.FullName, "/")
	return repo
}

// Tracker identifies one issue source. Trackers carry no mutable state; they
// are compared by Key, never by pointer.
type Tracker struct {
	Name    string // configuration alias
	Forge   string // forge host
	Project string // owner/repo holding the issues
	Label   string // only issues with this label are of interest
}

// Key returns the intrinsic identity of the tracker. Two trackers configured
// under different aliases but pointing at the same project and label share a
// key.
func (t *Tracker) Key() string {
	forge := t.Forge
	if forge == "" {
		forge = DefaultForge
	}
	key := forge + "/" + t.Project
	if t.Label != "" {
		key += "#" + t.Label
	}
	return strings.ToLower(key)
}

// Owner returns the owner part of Project
func (t *Tracker) Owner() string {
	owner, _, _ := strings.Cut(t.Project, "/")
	return owner
}

// Repo returns the repository part of Project
func (t *Tracker) Repo() string {
	_, repo, _ := strings.Cut(t.Project, "/")
	return repo
}
