package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/mataid/matchat/internal/model"
)

// SearchView finds researchers to connect with.
type SearchView struct {
	*tview.Flex
	input    *tview.InputField
	results  *tview.Table
	users    []model.User
	onQuery  func(query string)
	onSelect func(user model.User)
}

// NewSearchView creates the search page.
func NewSearchView() *SearchView {
	input := tview.NewInputField().
		SetLabel(" Search researchers: ").
		SetFieldWidth(0)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	results.SetBorder(true).SetTitle(" Results ")

	sv := &SearchView{
		Flex:    tview.NewFlex().SetDirection(tview.FlexRow),
		input:   input,
		results: results,
	}
	sv.AddItem(input, 1, 0, true)
	sv.AddItem(results, 0, 1, false)

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && sv.onQuery != nil {
			sv.onQuery(input.GetText())
		}
	})
	results.SetSelectedFunc(func(row, _ int) {
		idx := row - 1
		if idx >= 0 && idx < len(sv.users) && sv.onSelect != nil {
			sv.onSelect(sv.users[idx])
		}
	})

	return sv
}

// Input returns the query field for focus handling.
func (sv *SearchView) Input() *tview.InputField { return sv.input }

// Results returns the result table for focus handling.
func (sv *SearchView) Results() *tview.Table { return sv.results }

// SetOnQuery sets the callback for a submitted query.
func (sv *SearchView) SetOnQuery(fn func(query string)) { sv.onQuery = fn }

// SetOnSelect sets the callback for a chosen result.
func (sv *SearchView) SetOnSelect(fn func(user model.User)) { sv.onSelect = fn }

// Update fills the result table.
func (sv *SearchView) Update(users []model.User) {
	sv.users = users
	sv.results.Clear()

	for col, h := range []string{" NAME", " INSTITUTION", " DEPARTMENT"} {
		sv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(tcell.ColorWhite).
			SetAttributes(tcell.AttrBold).
			SetExpansion(1))
	}
	for i, u := range users {
		sv.results.SetCell(i+1, 0, tview.NewTableCell(" "+tview.Escape(u.Name)).SetExpansion(1))
		sv.results.SetCell(i+1, 1, tview.NewTableCell(" "+tview.Escape(u.Institution)).SetExpansion(1))
		sv.results.SetCell(i+1, 2, tview.NewTableCell(" "+tview.Escape(u.Department)).SetExpansion(1))
	}
	sv.results.SetTitle(fmt.Sprintf(" Results (%d) ", len(users)))
}
