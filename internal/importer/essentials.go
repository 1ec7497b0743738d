package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"uniquekits.dev/internal/kit"
)

// EssentialsFile reads kits from an EssentialsX kits.yml.
type EssentialsFile struct {
	Path string
}

// DetectEssentials returns an adapter when path exists, and nil otherwise.
func DetectEssentials(path string) *EssentialsFile {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return &EssentialsFile{Path: path}
}

func (e *EssentialsFile) Name() string { return "essentials" }

type essentialsDoc struct {
	Kits map[string]struct {
		Delay int64    `yaml:"delay"`
		Items []string `yaml:"items"`
	} `yaml:"kits"`
}

func (e *EssentialsFile) ListForeignKits(ctx context.Context) ([]ForeignKit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(e.Path)
	if err != nil {
		return nil, err
	}
	var doc essentialsDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", e.Path, err)
	}
	names := make([]string, 0, len(doc.Kits))
	for n := range doc.Kits {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]ForeignKit, 0, len(names))
	for _, n := range names {
		k := doc.Kits[n]
		out = append(out, ForeignKit{Name: n, DelaySeconds: k.Delay, Entries: k.Items})
	}
	return out, nil
}

// ImportOne converts an Essentials kit. Item lines are "material [amount]
// [key:value ...]"; lines starting with "/" become console commands. Lines
// that cannot be converted are returned as notes.
func (e *EssentialsFile) ImportOne(fk ForeignKit) (kit.Definition, []string, error) {
	if strings.TrimSpace(fk.Name) == "" {
		return kit.Definition{}, nil, errors.New("kit has no name")
	}
	d := kit.New(fk.Name)
	d.DisplayName = "&6&l" + title(d.ID) + " Kit"
	d.Description = "&7Imported from EssentialsX"
	if fk.DelaySeconds > 0 {
		d.CooldownMillis = fk.DelaySeconds * 1000
	}
	d.Lore = []string{
		"&7This kit was imported from EssentialsX",
		"&7Original cooldown: &e" + FormatDuration(d.CooldownMillis),
		"",
		"&a&lClick to claim!",
	}
	d.Sound = "ENTITY_PLAYER_LEVELUP"
	d.Priority = 1

	var notes []string
	for _, line := range fk.Entries {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "/"):
			cmd := strings.ReplaceAll(strings.TrimPrefix(line, "/"), "{USERNAME}", "{player}")
			d.Commands = append(d.Commands, kit.Command{Scope: kit.ScopeConsole, Template: cmd})
		case strings.HasPrefix(line, "$"):
			notes = append(notes, "money entry not supported: "+line)
		default:
			it, err := parseItem(line)
			if err != nil {
				notes = append(notes, err.Error())
				continue
			}
			d.Items = append(d.Items, it)
		}
	}
	return d, notes, nil
}

func parseItem(line string) (kit.Item, error) {
	fields := strings.Fields(line)
	material := strings.ToUpper(fields[0])
	if _, err := strconv.Atoi(material); err == nil || strings.Contains(material, ":") && isNumericID(material) {
		return kit.Item{}, fmt.Errorf("numeric item id not supported: %s", line)
	}
	it := kit.Item{Material: material, Amount: 1}
	rest := fields[1:]
	if len(rest) > 0 {
		if n, err := strconv.Atoi(rest[0]); err == nil {
			if n > 0 {
				it.Amount = n
			}
			rest = rest[1:]
		}
	}
	for _, kvp := range rest {
		k, v, ok := strings.Cut(kvp, ":")
		if !ok {
			continue
		}
		if it.Meta == nil {
			it.Meta = map[string]any{}
		}
		it.Meta[strings.ToLower(k)] = strings.ReplaceAll(v, "_", " ")
	}
	return it, nil
}

func isNumericID(s string) bool {
	id, _, _ := strings.Cut(s, ":")
	_, err := strconv.Atoi(id)
	return err == nil
}
