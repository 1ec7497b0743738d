package menu

import (
	"context"
	"fmt"
	"strings"

	"uniquekits.dev/internal/importer"
	"uniquekits.dev/internal/kit"
)

func (m *Menu) renderSelection(ctx context.Context, p *Panel) View {
	kits := m.visible(ctx, p.Actor)
	v := View{Kind: KindSelection, Title: "Kits", Pages: pages(len(kits))}
	if p.Page >= v.Pages {
		p.Page = v.Pages - 1
	}
	v.Page = p.Page

	start := p.Page * PageSize
	end := min(start+PageSize, len(kits))
	for i := start; i < end; i++ {
		d := kits[i]
		st, rem := m.status(ctx, d, p.Actor)
		lore := append(append([]string(nil), d.Lore...), "")
		switch st {
		case StatusOnCooldown:
			lore = append(lore, "&cOn cooldown: "+importer.FormatDuration(rem))
		case StatusClaimed:
			lore = append(lore, "&cAlready claimed")
		case StatusIneligible:
			lore = append(lore, "&cRequirements not met")
		default:
			lore = append(lore, "&aReady to claim!")
		}
		if d.Cost > 0 {
			lore = append(lore, fmt.Sprintf("&7Cost: &e%d", d.Cost))
		}
		v.Slots = append(v.Slots, Slot{
			Index:           i - start,
			KitID:           d.ID,
			Icon:            d.Icon,
			Label:           d.DisplayName,
			Lore:            lore,
			Status:          st,
			RemainingMillis: rem,
		})
	}

	v.Slots = append(v.Slots, Slot{Index: SlotInfo, Icon: "BOOK", Label: "&e&lKit Information", Lore: []string{
		fmt.Sprintf("&7Total Kits: &e%d", len(m.kits.ListAll())),
		fmt.Sprintf("&7Available Kits: &a%d", len(kits)),
		fmt.Sprintf("&7Page: &e%d&7/&e%d", p.Page+1, v.Pages),
	}})
	if p.Page > 0 {
		v.Slots = append(v.Slots, Slot{Index: SlotPrevPage, Icon: "ARROW", Label: "Previous Page"})
	}
	if p.Page < v.Pages-1 {
		v.Slots = append(v.Slots, Slot{Index: SlotNextPage, Icon: "ARROW", Label: "Next Page"})
	}
	v.Slots = append(v.Slots, Slot{Index: SlotClose, Icon: "BARRIER", Label: "Close"})
	return v
}

func (m *Menu) selectionInput(ctx context.Context, p *Panel, in Input) Result {
	kits := m.visible(ctx, p.Actor)
	n := pages(len(kits))
	switch {
	case in.Slot == SlotPrevPage && p.Page > 0:
		p.Page--
		return Result{}
	case in.Slot == SlotNextPage && p.Page < n-1:
		p.Page++
		return Result{}
	case in.Slot == SlotClose:
		return Result{Close: true}
	case in.Slot >= 0 && in.Slot < PageSize:
		idx := p.Page*PageSize + in.Slot
		if idx >= len(kits) {
			return Result{}
		}
		id := kits[idx].ID
		if in.Claim {
			out := m.grants.Grant(ctx, p.Actor, id, false)
			return Result{Close: true, Outcome: &out}
		}
		return Result{Open: Preview(p.Actor, id)}
	}
	return Result{}
}

func (m *Menu) renderPreview(p *Panel) (View, error) {
	d, err := m.kits.Get(p.KitID)
	if err != nil {
		return View{}, err
	}
	v := View{Kind: KindPreview, Title: "Preview: " + d.DisplayName, Pages: 1}
	for i, it := range d.Items {
		if i >= PageSize {
			break
		}
		it := it.Clone()
		v.Slots = append(v.Slots, Slot{Index: i, KitID: d.ID, Icon: it.Material, Label: it.Material, Item: &it})
	}

	cooldownText, costText := "None", "Free"
	if d.HasCooldown() {
		cooldownText = importer.FormatDuration(d.CooldownMillis)
	}
	if d.Cost > 0 {
		costText = fmt.Sprintf("$%d", d.Cost)
	}
	info := []string{
		"&7Name: &f" + d.DisplayName,
		"&7Description: &f" + d.Description,
		"&7Cooldown: &f" + cooldownText,
		"&7Cost: &f" + costText,
	}
	if d.Permission != "" {
		info = append(info, "&7Permission: &f"+d.Permission)
	}
	info = append(info,
		fmt.Sprintf("&7Items: &f%d", len(d.Items)),
		fmt.Sprintf("&7Commands: &f%d", len(d.Commands)),
		fmt.Sprintf("&7Effects: &f%d", len(d.Effects)),
	)
	v.Slots = append(v.Slots,
		Slot{Index: SlotInfo, KitID: d.ID, Icon: "PAPER", Label: "&e&lKit Information", Lore: info},
		Slot{Index: SlotBack, Icon: "ARROW", Label: "Back"},
		Slot{Index: SlotClaim, KitID: d.ID, Icon: "LIME_CONCRETE", Label: "Claim"},
	)
	return v, nil
}

func (m *Menu) previewInput(ctx context.Context, p *Panel, in Input) Result {
	switch in.Slot {
	case SlotClaim:
		out := m.grants.Grant(ctx, p.Actor, p.KitID, false)
		return Result{Close: true, Outcome: &out}
	case SlotBack:
		return Result{Open: Selection(p.Actor)}
	}
	return Result{}
}

func (m *Menu) renderEditor(p *Panel) View {
	v := View{Kind: KindEditor, Title: "Editing: " + p.draft.ID, Pages: 1}
	for i, it := range p.draft.Items {
		if i >= PageSize {
			break
		}
		it := it.Clone()
		v.Slots = append(v.Slots, Slot{Index: i, KitID: p.draft.ID, Icon: it.Material, Label: it.Material, Item: &it})
	}
	toggle := "&aEnabled"
	if !p.draft.Enabled {
		toggle = "&cDisabled"
	}
	cmds := make([]string, 0, len(p.draft.Commands))
	for _, c := range p.draft.Commands {
		cmds = append(cmds, "&7"+c.String())
	}
	v.Slots = append(v.Slots,
		Slot{Index: SlotSave, Icon: "LIME_CONCRETE", Label: "Save"},
		Slot{Index: SlotCancel, Icon: "RED_CONCRETE", Label: "Cancel"},
		Slot{Index: SlotToggleEnabled, Icon: "COMPARATOR", Label: toggle},
		Slot{Index: SlotAddCommand, Icon: "COMMAND_BLOCK", Label: "Add Command", Lore: cmds},
	)
	return v
}

func (m *Menu) editorInput(ctx context.Context, p *Panel, in Input) (Result, error) {
	if in.Slot >= 0 && in.Slot < PageSize {
		if in.Items != nil {
			items := make([]kit.Item, 0, len(in.Items))
			for _, it := range in.Items {
				if strings.TrimSpace(it.Material) == "" || it.Amount <= 0 {
					continue
				}
				items = append(items, it.Clone())
			}
			p.draft.Items = items
			p.changed = true
		}
		return Result{}, nil
	}

	switch in.Slot {
	case SlotSave:
		draft := p.draft.Clone()
		saved, err := m.kits.Update(ctx, p.KitID, func(d *kit.Definition) {
			d.Items = draft.Items
			d.Commands = draft.Commands
			d.Enabled = draft.Enabled
		})
		if err != nil {
			return Result{}, fmt.Errorf("save kit %s: %w", p.KitID, err)
		}
		p.changed = false
		return Result{Close: true, Saved: &saved}, nil
	case SlotCancel:
		return Result{Close: true}, nil
	case SlotToggleEnabled:
		p.draft.Enabled = !p.draft.Enabled
		p.changed = true
	case SlotAddCommand:
		if line := strings.TrimSpace(in.Text); line != "" {
			p.draft.Commands = append(p.draft.Commands, kit.ParseCommand(line))
			p.changed = true
		}
	}
	return Result{}, nil
}
