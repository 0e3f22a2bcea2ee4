package endpoint

import (
	"net/url"
	"strings"
)

const (
	localSecurePagePort = "8443"
	localPlainPagePort  = "8899"
)

var publicURLs = []Entry{
	{Name: TestnetEdge, URL: "https://edge.testnet.solana.com:8443"},
	{Name: TestnetBeta, URL: "https://beta.testnet.solana.com:8443"},
	{Name: Testnet, URL: "https://testnet.solana.com:8443"},
	{Name: TDS, URL: "https://tds.solana.com:8443"},
}

var hostnameEndpoints = map[string]Name{
	"edge.testnet.solana.com":  TestnetEdge,
	"beta.testnet.solana.com":  TestnetBeta,
	"testnet.solana.com":       Testnet,
	"tds.solana.com":           TDS,
	"explorer.solana.com":      Testnet,
	"edge.explorer.solana.com": TestnetEdge,
}

var friendlyNames = map[Name]string{
	TestnetEdge: "Edge Development Testnet",
	TestnetBeta: "Beta Development Testnet",
	Testnet:     "Public Testnet",
	TDS:         "Tour de SOL",
	Local:       "Local Cluster",
}

// Table is the ordered set of known endpoints. It is not safe for concurrent
// mutation; callers own it and only Remove it during startup.
type Table struct {
	entries []Entry
}

// NewTable builds the full known-endpoints table for env. The local entry
// points at the page host, on 8443 when the page is served over https.
func NewTable(env Environment) *Table {
	entries := make([]Entry, 0, len(publicURLs)+1)
	entries = append(entries, Entry{
		Name:         Local,
		URL:          localURL(env),
		FriendlyName: FriendlyName(Local),
	})
	for _, e := range publicURLs {
		e.FriendlyName = FriendlyName(e.Name)
		entries = append(entries, e)
	}
	return &Table{entries: entries}
}

// Lookup returns the entry registered under name.
func (t *Table) Lookup(name Name) (Entry, bool) {
	for _, e := range t.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Contains reports whether name is a key of the table.
func (t *Table) Contains(name Name) bool {
	_, ok := t.Lookup(name)
	return ok
}

// Remove deletes name from the table. Removing an absent name is a no-op.
func (t *Table) Remove(name Name) {
	out := t.entries[:0]
	for _, e := range t.entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	t.entries = out
}

// Entries returns a copy of the table in iteration order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Descriptors returns the name and display label of every entry, in table order.
func (t *Table) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, Descriptor{Name: e.Name, FriendlyName: e.FriendlyName})
	}
	return out
}

// HostnameEndpoint maps a public page hostname to the endpoint it serves.
func HostnameEndpoint(hostname string) (Name, bool) {
	name, ok := hostnameEndpoints[strings.ToLower(strings.TrimSpace(hostname))]
	return name, ok
}

// ResolveDefault picks the initial selection for env. On a known public
// hostname the local entry is removed from table, since a local cluster is
// only reachable from a development build.
func ResolveDefault(env Environment, table *Table) Name {
	if name, ok := HostnameEndpoint(env.Hostname); ok {
		table.Remove(Local)
		return name
	}
	return DevelopmentDefault
}

// FriendlyName returns the display label for name, falling back to the name itself.
func FriendlyName(name Name) string {
	if label, ok := friendlyNames[name]; ok {
		return label
	}
	return string(name)
}

// ParseName validates raw against table. Only exact keys match; callers that
// accept user input trim it themselves.
func ParseName(raw string, table *Table) (Name, bool) {
	name := Name(raw)
	if name == "" || !table.Contains(name) {
		return "", false
	}
	return name, true
}

func localURL(env Environment) string {
	port := localPlainPagePort
	if pageScheme(env.PageURL) == "https" {
		port = localSecurePagePort
	}
	u := url.URL{Scheme: "http", Host: env.Hostname + ":" + port}
	return u.String()
}

func pageScheme(pageURL string) string {
	if pageURL == "" {
		return "http"
	}
	u, err := url.Parse(pageURL)
	if err != nil || u.Scheme == "" {
		return "http"
	}
	return strings.ToLower(u.Scheme)
}
