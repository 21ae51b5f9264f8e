package keys

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mosaicnetworks/notarium/src/common"
)

// compositePrefix marks an owning key string as an encoded CompositeKey rather
// than a single public key.
const compositePrefix = "COMPOSITE:"

// WeightedKey is a child of a CompositeKey. Key is either a public key in hex
// form or a nested encoded CompositeKey.
type WeightedKey struct {
	Key    string `json:"key"`
	Weight int    `json:"weight"`
}

// CompositeKey is a threshold key: it is fulfilled by a set of signing keys
// when the total weight of the fulfilled children reaches Threshold.
type CompositeKey struct {
	Threshold int           `json:"threshold"`
	Children  []WeightedKey `json:"children"`
}

// NewCompositeKey validates and returns a CompositeKey. Children are sorted so
// that two keys built from the same members encode identically.
func NewCompositeKey(threshold int, children ...WeightedKey) (*CompositeKey, error) {
	if len(children) == 0 {
		return nil, fmt.Errorf("composite key needs at least one child")
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("composite key threshold must be positive, got %d", threshold)
	}

	total := 0
	seen := make(map[string]bool)
	sorted := make([]WeightedKey, 0, len(children))
	for _, c := range children {
		if c.Weight <= 0 {
			return nil, fmt.Errorf("composite key child %s has non-positive weight", c.Key)
		}
		key := normalizeKey(c.Key)
		if seen[key] {
			return nil, fmt.Errorf("duplicate composite key child %s", key)
		}
		seen[key] = true
		total += c.Weight
		sorted = append(sorted, WeightedKey{Key: key, Weight: c.Weight})
	}

	if threshold > total {
		return nil, fmt.Errorf("composite key threshold %d exceeds total weight %d", threshold, total)
	}

	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	return &CompositeKey{Threshold: threshold, Children: sorted}, nil
}

// Encode returns the owning-key string form of the composite key.
func (c *CompositeKey) Encode() string {
	b, _ := json.Marshal(c)
	return compositePrefix + strings.ToUpper(hex.EncodeToString(b))
}

// IsCompositeKey reports whether an owning key string is an encoded
// CompositeKey.
func IsCompositeKey(owningKey string) bool {
	return strings.HasPrefix(owningKey, compositePrefix)
}

// DecodeCompositeKey parses the output of Encode.
func DecodeCompositeKey(owningKey string) (*CompositeKey, error) {
	if !IsCompositeKey(owningKey) {
		return nil, fmt.Errorf("not a composite key")
	}
	b, err := hex.DecodeString(strings.TrimPrefix(owningKey, compositePrefix))
	if err != nil {
		return nil, err
	}
	var c CompositeKey
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return NewCompositeKey(c.Threshold, c.Children...)
}

// IsFulfilledBy reports whether the given signing keys satisfy the threshold.
func (c *CompositeKey) IsFulfilledBy(signers []string) bool {
	set := make(map[string]bool, len(signers))
	for _, s := range signers {
		set[normalizeKey(s)] = true
	}
	return c.fulfilledBy(set)
}

func (c *CompositeKey) fulfilledBy(set map[string]bool) bool {
	weight := 0
	for _, child := range c.Children {
		if IsCompositeKey(child.Key) {
			nested, err := DecodeCompositeKey(child.Key)
			if err == nil && nested.fulfilledBy(set) {
				weight += child.Weight
			}
		} else if set[child.Key] {
			weight += child.Weight
		}
	}
	return weight >= c.Threshold
}

// LeafKeys returns every single public key reachable from the composite key.
func (c *CompositeKey) LeafKeys() []string {
	var res []string
	for _, child := range c.Children {
		if IsCompositeKey(child.Key) {
			if nested, err := DecodeCompositeKey(child.Key); err == nil {
				res = append(res, nested.LeafKeys()...)
			}
			continue
		}
		res = append(res, child.Key)
	}
	return res
}

// IsFulfilledBy checks an owning key, single or composite, against a set of
// signing keys.
func IsFulfilledBy(owningKey string, signers []string) bool {
	if IsCompositeKey(owningKey) {
		c, err := DecodeCompositeKey(owningKey)
		if err != nil {
			return false
		}
		return c.IsFulfilledBy(signers)
	}
	owner := normalizeKey(owningKey)
	for _, s := range signers {
		if normalizeKey(s) == owner {
			return true
		}
	}
	return false
}

// LeafKeysOf returns the single keys behind an owning key.
func LeafKeysOf(owningKey string) []string {
	if IsCompositeKey(owningKey) {
		c, err := DecodeCompositeKey(owningKey)
		if err != nil {
			return nil
		}
		return c.LeafKeys()
	}
	return []string{normalizeKey(owningKey)}
}

// ContainsKey reports whether key is, or is part of, owningKey.
func ContainsKey(owningKey, key string) bool {
	k := normalizeKey(key)
	for _, leaf := range LeafKeysOf(owningKey) {
		if leaf == k {
			return true
		}
	}
	return false
}

func normalizeKey(k string) string {
	if IsCompositeKey(k) {
		return k
	}
	return common.NormalizeHex(k)
}
