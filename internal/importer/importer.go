// Package importer converts kits from other kit plugins into definitions.
package importer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"uniquekits.dev/internal/kit"
)

// ForeignKit is a kit as another plugin describes it.
type ForeignKit struct {
	Name         string
	DelaySeconds int64
	Entries      []string
}

// Adapter is implemented per foreign format. It is only constructed when the
// foreign source is present.
type Adapter interface {
	Name() string
	ListForeignKits(ctx context.Context) ([]ForeignKit, error)
	ImportOne(fk ForeignKit) (kit.Definition, []string, error)
}

// Target receives imported definitions.
type Target interface {
	Has(id string) bool
	Put(ctx context.Context, d kit.Definition) error
}

type Report struct {
	Found    int
	Imported []string
	Skipped  []string
	Failed   map[string]error
	// Notes lists entries that could not be converted, per kit.
	Notes map[string][]string
}

// ImportAll imports every foreign kit whose id is not taken yet.
func ImportAll(ctx context.Context, a Adapter, t Target, log *zap.Logger) (Report, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fks, err := a.ListForeignKits(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list %s kits: %w", a.Name(), err)
	}
	rep := Report{Found: len(fks), Failed: map[string]error{}, Notes: map[string][]string{}}
	log.Info("importing kits", zap.String("source", a.Name()), zap.Int("found", len(fks)))

	for _, fk := range fks {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		id := kit.NormalizeID(fk.Name)
		if t.Has(id) {
			rep.Skipped = append(rep.Skipped, id)
			log.Info("kit exists, skipping", zap.String("kit", id))
			continue
		}
		d, notes, err := a.ImportOne(fk)
		if err != nil {
			rep.Failed[id] = err
			log.Warn("import failed", zap.String("kit", id), zap.Error(err))
			continue
		}
		if len(notes) > 0 {
			rep.Notes[id] = notes
		}
		if err := t.Put(ctx, d); err != nil {
			rep.Failed[id] = err
			log.Warn("import failed", zap.String("kit", id), zap.Error(err))
			continue
		}
		rep.Imported = append(rep.Imported, id)
	}
	log.Info("import complete", zap.String("source", a.Name()), zap.Int("imported", len(rep.Imported)))
	return rep, nil
}

// FormatDuration renders a cooldown the way imported lore shows it.
func FormatDuration(millis int64) string {
	if millis <= 0 {
		return "No cooldown"
	}
	seconds := millis / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours%24)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
