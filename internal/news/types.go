package news

import "net/url"

// Article describes one item referenced by a feed.
type Article struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Identity is the key under which variants of one logical article are
// merged: the same title on the same server, whatever the URL path.
type Identity struct {
	Title  string
	Server string
}

// IdentityOf derives the merge key of an article.
func IdentityOf(a Article) Identity {
	return Identity{Title: a.Title, Server: ServerOf(a.URL)}
}

// ServerOf returns the canonical host of rawURL, or rawURL itself when it
// cannot be parsed or carries no host.
func ServerOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return canonicalHost(u.Hostname())
}

// Less orders identities by title, then server.
func (i Identity) Less(other Identity) bool {
	if i.Title != other.Title {
		return i.Title < other.Title
	}
	return i.Server < other.Server
}

// Match is one search hit: an article and how often the term occurs in it.
type Match struct {
	Article Article `json:"article"`
	Count   int     `json:"count"`
}
