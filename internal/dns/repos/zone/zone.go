// Package zone loads authoritative seed records from zone files in YAML,
// JSON or TOML and turns them into Add mutations for the replication
// coordinator.
package zone

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"

	"github.com/haukened/kdns/internal/dns/common/utils"
	"github.com/haukened/kdns/internal/dns/domain"
)

// keyDelim splits koanf keys. Owner names contain dots, so a character that
// cannot appear in a name is used instead.
const keyDelim = "/"

// LoadDirectory walks dir, loading every supported zone file, and returns
// the zone roots (sorted, deduplicated) and the Add mutations for their
// records. Any file that fails to parse aborts the load.
func LoadDirectory(dir string, defaultTTL time.Duration) ([]string, []*domain.Mutation, error) {
	seen := make(map[string]struct{})
	var (
		zones []string
		muts  []*domain.Mutation
	)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		root, records, err := loadZoneFile(path, defaultTTL)
		if err != nil {
			return fmt.Errorf("error parsing zone file %s: %w", path, err)
		}
		if root == "" {
			return nil
		}
		if _, ok := seen[root]; !ok {
			seen[root] = struct{}{}
			zones = append(zones, root)
		}
		muts = append(muts, records...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(zones)
	return zones, muts, nil
}

// expandName returns the fully qualified owner for a label, expanding '@'
// to the root and appending the root to relative labels.
func expandName(label, root string) string {
	if label == "@" {
		return root
	}
	if strings.HasSuffix(label, ".") {
		return label
	}
	return label + "." + root
}

// toStringValues converts a parsed value (string or []any of strings) into
// non-empty trimmed strings. Anything else yields nil.
func toStringValues(val any) []string {
	switch v := val.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		return []string{s}
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			s, ok := elem.(string)
			if !ok {
				continue
			}
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			out = append(out, s)
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}

// buildMutations creates one Add mutation per value.
func buildMutations(root, owner, rrType string, values []string, defaultTTL time.Duration) ([]*domain.Mutation, error) {
	mnemonic := strings.ToUpper(rrType)
	t := domain.RRTypeFromString(mnemonic)
	if t == 0 {
		return nil, fmt.Errorf("%s: %s record type not supported", owner, mnemonic)
	}
	out := make([]*domain.Mutation, 0, len(values))
	for _, v := range values {
		m := &domain.Mutation{
			Action: domain.ActionAdd,
			Zone:   root,
			View:   domain.DefaultView,
			Domain: owner,
			Type:   t,
			TTL:    uint32(defaultTTL.Seconds()),
		}
		if err := parseValue(m, v); err != nil {
			return nil, fmt.Errorf("%s %s: %w", owner, mnemonic, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// loadZoneFile parses one zone file. Unsupported extensions return an empty
// root and no error. Every owner must lie within zone_root; reverse records
// belong in a file whose root is their in-addr.arpa zone.
func loadZoneFile(path string, defaultTTL time.Duration) (string, []*domain.Mutation, error) {
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	case ".toml":
		parser = toml.Parser()
	default:
		return "", nil, nil
	}

	k := koanf.New(keyDelim)
	if err := k.Load(file.Provider(path), parser); err != nil {
		return "", nil, fmt.Errorf("failed to load zone file %s: %w", path, err)
	}

	root := utils.CanonicalDNSName(k.String("zone_root"))
	if root == "" {
		return "", nil, fmt.Errorf("zone file %s missing 'zone_root'", path)
	}

	var muts []*domain.Mutation
	for name, raw := range k.Raw() {
		if name == "zone_root" {
			continue
		}
		rawMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		owner := utils.CanonicalDNSName(expandName(name, root))
		if !utils.IsSubdomain(owner, root) {
			return "", nil, fmt.Errorf("owner %s is outside zone %s", owner, root)
		}
		for rrType, val := range rawMap {
			values := toStringValues(val)
			if len(values) == 0 {
				continue
			}
			recs, err := buildMutations(root, owner, rrType, values, defaultTTL)
			if err != nil {
				return "", nil, fmt.Errorf("invalid record in %s: %w", path, err)
			}
			muts = append(muts, recs...)
		}
	}
	return root, muts, nil
}
