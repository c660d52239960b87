package corpus

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/permission"
)

// ErrInvalidInventory is returned for unusable object inventories.
var ErrInvalidInventory = errors.New("invalid object inventory")

// ParseInventory decodes a JSON or YAML mapping of resource type to instances.
func ParseInventory(data []byte) (permission.Inventory, error) {
	var inv permission.Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInventory, err)
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: expected a mapping of resource types", ErrInvalidInventory)
	}
	for name := range inv {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: blank resource type", ErrInvalidInventory)
		}
	}
	return inv, nil
}

// LoadInventory reads an object inventory file.
func LoadInventory(path string) (permission.Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read object inventory %s: %w", path, err)
	}
	return ParseInventory(data)
}
