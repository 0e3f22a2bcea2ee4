package endpoint

// Name identifies a known network environment.
type Name string

const (
	Local       Name = "local"
	TestnetEdge Name = "testnet-edge"
	TestnetBeta Name = "testnet-beta"
	Testnet     Name = "testnet"
	TDS         Name = "tds"
)

// DevelopmentDefault is selected when the page is not served from a known public hostname.
const DevelopmentDefault = TestnetEdge

// Entry associates a Name with its base RPC URL and display label.
type Entry struct {
	Name         Name
	URL          string
	FriendlyName string
}

// Descriptor is the subset of an Entry shown in a selection UI.
type Descriptor struct {
	Name         Name   `json:"name"`
	FriendlyName string `json:"friendlyName"`
}

// Environment is the ambient page context. It is read once when a table is built.
type Environment struct {
	Hostname string `yaml:"hostname"`
	PageURL  string `yaml:"page_url"`
}
