package kit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"
)

type fileKit struct {
	Name              string     `yaml:"name"`
	Description       string     `yaml:"description,omitempty"`
	Lore              []string   `yaml:"lore,omitempty"`
	Icon              string     `yaml:"icon"`
	IconData          int        `yaml:"icon-data,omitempty"`
	IconModelData     string     `yaml:"icon-custom-model-data,omitempty"`
	Items             []Item     `yaml:"items,omitempty"`
	Commands          []string   `yaml:"commands,omitempty"`
	Effects           []Effect   `yaml:"effects,omitempty"`
	Cooldown          int64      `yaml:"cooldown"`
	Cost              int64      `yaml:"cost"`
	Permission        string     `yaml:"permission,omitempty"`
	OneTimeUse        bool       `yaml:"one-time-use"`
	AutoGiveOnJoin    bool       `yaml:"auto-give-on-join"`
	AutoGiveOnRespawn bool       `yaml:"auto-give-on-respawn"`
	FirstJoinKit      bool       `yaml:"first-join-kit"`
	AllowedWorlds     []string   `yaml:"allowed-worlds,omitempty"`
	BlockedWorlds     []string   `yaml:"blocked-worlds,omitempty"`
	Requirements      *yaml.Node `yaml:"requirements,omitempty"`
	Sound             string     `yaml:"sound,omitempty"`
	Particle          string     `yaml:"particle,omitempty"`
	Priority          int        `yaml:"priority"`
	Enabled           bool       `yaml:"enabled"`
}

func toFileKit(d Definition) fileKit {
	fk := fileKit{
		Name:              d.DisplayName,
		Description:       d.Description,
		Lore:              d.Lore,
		Icon:              d.Icon,
		IconData:          d.IconData,
		IconModelData:     d.IconModelData,
		Items:             d.Items,
		Effects:           d.Effects,
		Cooldown:          d.CooldownMillis,
		Cost:              d.Cost,
		Permission:        d.Permission,
		OneTimeUse:        d.OneTimeUse,
		AutoGiveOnJoin:    d.AutoGiveOnJoin,
		AutoGiveOnRespawn: d.AutoGiveOnRespawn,
		FirstJoinKit:      d.FirstJoinKit,
		AllowedWorlds:     d.AllowedWorlds,
		BlockedWorlds:     d.BlockedWorlds,
		Requirements:      requirementNode(d.Requirements),
		Sound:             d.Sound,
		Particle:          d.Particle,
		Priority:          d.Priority,
		Enabled:           d.Enabled,
	}
	for _, c := range d.Commands {
		fk.Commands = append(fk.Commands, c.String())
	}
	return fk
}

// EncodeSection renders one definition as a standalone YAML document.
func EncodeSection(d Definition) ([]byte, error) {
	return yaml.Marshal(toFileKit(d))
}

// ParseDocument reads a kits file: a top-level "kits" mapping of id to kit
// section. Definitions are returned in file order. Duplicate ids (after
// normalization) keep the first occurrence. An empty document yields no kits.
func ParseDocument(raw []byte) ([]Definition, []Issue, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse kits document: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("parse kits document: top level is not a mapping")
	}

	var kits *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "kits" {
			kits = root.Content[i+1]
			break
		}
	}
	if kits == nil || kits.Kind == yaml.ScalarNode && kits.Tag == "!!null" {
		return nil, nil, nil
	}
	if kits.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("parse kits document: kits is not a mapping")
	}

	var (
		defs   []Definition
		issues []Issue
		seen   = map[string]bool{}
	)
	for i := 0; i+1 < len(kits.Content); i += 2 {
		rawID := kits.Content[i].Value
		id := NormalizeID(rawID)
		if id == "" {
			issues = append(issues, Issue{Kit: rawID, Msg: "empty kit id, section skipped"})
			continue
		}
		if seen[id] {
			issues = append(issues, Issue{Kit: id, Msg: "duplicate kit id, later section skipped"})
			continue
		}
		seen[id] = true
		d, is := Decode(rawID, kits.Content[i+1])
		defs = append(defs, d)
		issues = append(issues, is...)
	}
	return defs, issues, nil
}

// EncodeDocument renders defs as a kits file, preserving their order.
func EncodeDocument(defs []Definition) ([]byte, error) {
	kits := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, d := range defs {
		var section yaml.Node
		if err := section.Encode(toFileKit(d)); err != nil {
			return nil, fmt.Errorf("encode kit %s: %w", d.ID, err)
		}
		kits.Content = append(kits.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: d.ID},
			&section,
		)
	}
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: "kits"},
		kits,
	}}
	return yaml.Marshal(root)
}

// Digest is a stable content hash of defs in order.
func Digest(defs []Definition) string {
	b, err := EncodeDocument(defs)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
