// Package community holds the static catalog of token gated communities shown on the page.
//
// A community is identified by the contract address of its token. The same address is used as the
// key for per-community state and as the requirement passed to Picket when checking token ownership.
package community

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed catalog.json
var defaultCatalog []byte

//go:embed catalog.schema.json
var catalogSchema string

const catalogSchemaURL = "https://incremental-auth.local/catalog.schema.json"

var ErrDuplicateCommunity = errors.New("duplicate community contract address")

// Community is a token gated content area
type Community struct {
	ID              string `json:"-"` // lower case contract address
	Name            string `json:"name"`
	Image           string `json:"image"`
	Description     string `json:"description"`
	ContractAddress string `json:"contractAddress"`
	MinTokenBalance string `json:"minTokenBalance,omitempty"`
}

// Catalog is the immutable, ordered list of communities loaded at start-up
type Catalog struct {
	communities []Community
	index       map[string]int
}

// Default returns the built-in catalog
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

// LoadFile reads a catalog from path, or returns the built-in catalog when path is empty
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open communities file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load parses and validates a JSON catalog
func Load(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("could not read catalog: %w", err)
	}

	schema, err := jsonschema.CompileString(catalogSchemaURL, catalogSchema)
	if err != nil {
		return nil, fmt.Errorf("could not compile catalog schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("catalog failed schema validation: %w", err)
	}

	var communities []Community
	if err := json.Unmarshal(data, &communities); err != nil {
		return nil, fmt.Errorf("could not decode catalog: %w", err)
	}

	return NewCatalog(communities)
}

// NewCatalog builds a catalog from the supplied communities, preserving their order
func NewCatalog(communities []Community) (*Catalog, error) {
	c := &Catalog{
		communities: make([]Community, 0, len(communities)),
		index:       make(map[string]int, len(communities)),
	}

	for _, com := range communities {
		if !common.IsHexAddress(com.ContractAddress) {
			return nil, fmt.Errorf("community %q has an invalid contract address: %q", com.Name, com.ContractAddress)
		}
		com.ID = NormalizeAddress(com.ContractAddress)
		com.ContractAddress = com.ID

		if _, exists := c.index[com.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCommunity, com.ID)
		}
		c.index[com.ID] = len(c.communities)
		c.communities = append(c.communities, com)
	}

	return c, nil
}

// All returns a copy of the communities in display order
func (c *Catalog) All() []Community {
	out := make([]Community, len(c.communities))
	copy(out, c.communities)
	return out
}

// Lookup finds a community by contract address (case insensitive)
func (c *Catalog) Lookup(id string) (Community, bool) {
	i, ok := c.index[NormalizeAddress(id)]
	if !ok {
		return Community{}, false
	}
	return c.communities[i], true
}

// Len returns the number of communities in the catalog
func (c *Catalog) Len() int {
	return len(c.communities)
}

// NormalizeAddress returns the lower case 0x-prefixed form of a hex address. Values that are not hex addresses are returned trimmed but otherwise unchanged.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return addr
	}
	return strings.ToLower(common.HexToAddress(addr).Hex())
}

// ChecksumAddress returns the EIP-55 mixed case form of addr
func ChecksumAddress(addr string) string {
	if !common.IsHexAddress(addr) {
		return addr
	}
	return common.HexToAddress(addr).Hex()
}

// DisplayAddress shortens 0x addresses to the first six and last four characters, e.g. 0x57f1...ea85.
// Anything else (ENS names, short strings) is returned as is.
func DisplayAddress(addr string) string {
	if !strings.HasPrefix(addr, "0x") || len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
