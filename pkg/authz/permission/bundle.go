package permission

import (
	"encoding/json"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/apidef"
)

// AccessPattern summarizes one observed exchange.
type AccessPattern struct {
	Principal string `json:"principal"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status_code"`
}

// Inventory maps a resource type to its known instances. It is passed to the
// classifier as context only.
type Inventory map[string][]map[string]any

// Bundle is the structured context handed to a Classifier.
type Bundle struct {
	Operations     []apidef.Operation `json:"operations"`
	AccessPatterns []AccessPattern    `json:"access_patterns"`
	Objects        Inventory          `json:"objects"`
}

// NewBundle assembles the classifier context. Nil inputs become empty collections.
func NewBundle(def *apidef.Definition, patterns []AccessPattern, inventory Inventory) Bundle {
	b := Bundle{
		Operations:     []apidef.Operation{},
		AccessPatterns: []AccessPattern{},
		Objects:        Inventory{},
	}
	if def != nil {
		b.Operations = append(b.Operations, def.Operations...)
	}
	b.AccessPatterns = append(b.AccessPatterns, patterns...)
	for k, v := range inventory {
		b.Objects[k] = v
	}
	return b
}

// JSON renders the bundle with indentation, as sent to text classifiers.
func (b Bundle) JSON() ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}
