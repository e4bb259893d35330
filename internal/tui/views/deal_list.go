package views

import (
	"fmt"
	"time"

	"github.com/kyodoai/dealdesk/internal/store"
	"github.com/rivo/tview"
)

// DealList is the sidebar table of activated deals.
type DealList struct {
	*tview.Table
	deals      []store.Deal
	selectedFn func() (int, int)
}

func NewDealList() *DealList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Deals ")

	dl := &DealList{Table: table}
	dl.selectedFn = table.GetSelection
	return dl
}

// Update refreshes the table with a new deal snapshot.
func (dl *DealList) Update(deals []store.Deal) {
	dl.deals = deals
	dl.Clear()

	dl.SetCell(0, 0, tview.NewTableCell(" From").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	dl.SetCell(0, 1, tview.NewTableCell(" Subject").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	dl.SetCell(0, 2, tview.NewTableCell(" Budget").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	dl.SetCell(0, 3, tview.NewTableCell(" Last").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	dl.SetCell(0, 4, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, d := range deals {
		row := i + 1
		from := d.FromName
		if from == "" {
			from = d.FromEmail
		}
		if d.Company != "" {
			from = fmt.Sprintf("%s (%s)", from, d.Company)
		}
		if d.AIActivated {
			from = "* " + from
		}

		dl.SetCell(row, 0, tview.NewTableCell(" "+sanitizeForTerminal(from)).SetMaxWidth(28).SetExpansion(1))
		dl.SetCell(row, 1, tview.NewTableCell(" "+sanitizeForTerminal(d.Subject)).SetMaxWidth(36).SetExpansion(2))
		dl.SetCell(row, 2, tview.NewTableCell(" "+d.Budget).SetMaxWidth(12))
		dl.SetCell(row, 3, tview.NewTableCell(" "+sanitizeForTerminal(d.LastMessagePreview)).SetMaxWidth(32).SetExpansion(1))
		dl.SetCell(row, 4, tview.NewTableCell(" "+formatTimestamp(d.LastMessageAt)).SetMaxWidth(12))
	}
}

// SelectedDeal returns the id of the currently selected deal.
func (dl *DealList) SelectedDeal() string {
	row, _ := dl.selectedFn()
	idx := row - 1 // header row
	if idx >= 0 && idx < len(dl.deals) {
		return dl.deals[idx].ID
	}
	return ""
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
