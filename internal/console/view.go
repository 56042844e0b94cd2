package console

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"vehiclestatus/internal/dashboard"
	"vehiclestatus/internal/domain"
	"vehiclestatus/internal/store"
)

const (
	pageMain = "main"
	pageRate = "rate"
)

type column struct {
	key    string
	header string
	value  func(domain.RowRecord) string
}

var columns = []column{
	{"status", "STATUS", func(r domain.RowRecord) string { return statusLabel(r.Status) }},
	{"vehicleId", "VEHICLE", func(r domain.RowRecord) string { return r.VehicleID.String() }},
	{"lastUpdate", "LAST UPDATE", func(r domain.RowRecord) string { return r.LastUpdate }},
	{"inferredState", "STATE", func(r domain.RowRecord) string { return r.InferredState }},
	{dashboard.ColumnInferredDestination, "DESTINATION", func(r domain.RowRecord) string { return r.InferredDestination }},
	{"inferredDSC", "INF DSC", func(r domain.RowRecord) string { return r.InferredDSC.String() }},
	{dashboard.ColumnObservedDSC, "OBS DSC", func(r domain.RowRecord) string { return r.ObservedDSC.String() }},
	{"pulloutTime", "PULL-OUT", func(r domain.RowRecord) string { return r.FormattedPulloutTime }},
	{"pullinTime", "PULL-IN", func(r domain.RowRecord) string { return r.FormattedPullinTime }},
}

func statusLabel(icon string) string {
	switch icon {
	case store.IconEmergency:
		return "EMERGENCY"
	case store.IconLagging:
		return "LAGGING"
	case store.IconReporting:
		return "OK"
	default:
		return icon
	}
}

// View is the terminal dashboard. It serves as the grid, summary, status and
// refresh dialog widgets.
//
// Until Attach is called widget updates run directly on the caller's
// goroutine, which is how tests drive it without a screen. Once attached they
// are queued onto the application's event goroutine, so no update may be
// issued from a tview callback.
type View struct {
	color bool

	mu      sync.Mutex
	app     *tview.Application
	mounted *tview.Application
	submit  func(line string)
	direct  sync.Mutex

	dialogOpen atomic.Bool

	pages   *tview.Pages
	summary *tview.TextView
	grid    *tview.Table
	footer  *tview.TextView
	status  *tview.TextView
	live    *tview.TextView
	info    *tview.Table
	output  *tview.TextView
	command *tview.InputField
	rate    *tview.InputField

	changes domain.ChangeSummary
}

func NewView(color bool) *View {
	v := &View{
		color:   color,
		pages:   tview.NewPages(),
		summary: tview.NewTextView(),
		grid:    tview.NewTable().SetFixed(1, 0),
		footer:  tview.NewTextView(),
		status:  tview.NewTextView(),
		live:    tview.NewTextView().SetDynamicColors(color),
		info:    tview.NewTable(),
		output:  tview.NewTextView().SetDynamicColors(color).SetScrollable(true).SetMaxLines(500),
		command: tview.NewInputField().SetLabel("> ").SetPlaceholder("type 'help' for commands"),
		rate:    tview.NewInputField().SetLabel("seconds: ").SetFieldWidth(8).SetAcceptanceFunc(tview.InputFieldInteger),
	}

	v.info.SetBorder(true)
	v.output.SetBorder(true).SetTitle(" output ")
	v.rate.SetBorder(true).SetTitle(" refresh rate ")

	v.command.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			line := v.command.GetText()
			v.command.SetText("")
			v.submitLine(line)
		case tcell.KeyEscape:
			v.command.SetText("")
		}
	})
	v.rate.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			if text := v.rate.GetText(); text != "" {
				v.submitLine(text)
			}
		case tcell.KeyEscape:
			v.submitLine("cancel")
		}
	})

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(v.summary, 1, 0, false).
		AddItem(v.grid, 0, 3, false).
		AddItem(v.footer, 1, 0, false).
		AddItem(v.status, 1, 0, false).
		AddItem(v.live, 1, 0, false).
		AddItem(v.info, 0, 1, false).
		AddItem(v.output, 0, 1, false).
		AddItem(v.command, 1, 0, true)

	v.pages.
		AddPage(pageMain, layout, true, true).
		AddPage(pageRate, centered(v.rate, 30, 3), true, false)

	return v
}

func centered(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 1, true).
			AddItem(nil, 0, 1, false), width, 1, true).
		AddItem(nil, 0, 1, false)
}

// Mount installs the view as app's root. Call it before app.Run.
func (v *View) Mount(app *tview.Application) {
	app.SetRoot(v.pages, true).
		SetFocus(v.command).
		SetInputCapture(v.capture)

	v.mu.Lock()
	v.mounted = app
	v.mu.Unlock()
}

// Attach routes widget updates through the mounted application. Call it
// once the application is running.
func (v *View) Attach() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.app = v.mounted
}

// Detach stops routing updates through the application. Call it before
// stopping the application and after every producer has finished.
func (v *View) Detach() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.app = nil
}

// SetSubmitFunc sets the receiver of lines typed at the prompt. fn is called
// on the event goroutine and must not block.
func (v *View) SetSubmitFunc(fn func(line string)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.submit = fn
}

func (v *View) submitLine(line string) {
	v.mu.Lock()
	fn := v.submit
	v.mu.Unlock()
	if fn != nil {
		fn(line)
	}
}

// capture turns Ctrl-C into a quit command so shutdown goes through the
// console instead of stopping the application underneath it.
func (v *View) capture(event *tcell.EventKey) *tcell.EventKey {
	if event.Key() == tcell.KeyCtrlC {
		v.submitLine("quit")
		return nil
	}
	return event
}

func (v *View) update(fn func()) {
	v.mu.Lock()
	app := v.app
	v.mu.Unlock()

	if app != nil {
		app.QueueUpdateDraw(fn)
		return
	}

	v.direct.Lock()
	defer v.direct.Unlock()
	fn()
}

// focus must be called from inside an update.
func (v *View) focus(p tview.Primitive) {
	v.mu.Lock()
	app := v.app
	v.mu.Unlock()
	if app != nil {
		app.SetFocus(p)
	}
}

func (v *View) Render(env domain.PageEnvelope, overrides dashboard.StyleOverrides) {
	v.update(func() {
		v.grid.Clear()
		for i, c := range columns {
			header := tview.NewTableCell(c.header).
				SetAttributes(tcell.AttrBold).
				SetSelectable(false).
				SetExpansion(1)
			if v.color {
				header.SetTextColor(tcell.ColorYellow)
			}
			v.grid.SetCell(0, i, header)
		}
		for r, row := range env.Rows {
			for i, c := range columns {
				v.grid.SetCell(r+1, i, v.cell(c, row, overrides[r][c.key]))
			}
		}
		v.grid.ScrollToBeginning()

		footer := fmt.Sprintf("page %d of %d, %d vehicles", env.Page, env.TotalPages, env.TotalRecords)
		if len(env.Rows) == 0 {
			footer = "(no vehicles match the current filters) " + footer
		}
		v.footer.SetText(footer)

		v.changes = domain.ChangeSummary{}
		v.live.SetText("")
	})
}

func (v *View) cell(c column, row domain.RowRecord, style dashboard.CellStyle) *tview.TableCell {
	cell := tview.NewTableCell(tview.Escape(c.value(row)))
	if !v.color {
		cell.Text += plainMarker(style)
		return cell
	}

	if c.key == "status" {
		switch row.Status {
		case store.IconEmergency:
			cell.SetStyle(tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true))
		case store.IconLagging:
			cell.SetStyle(tcell.StyleDefault.Foreground(tcell.ColorYellow))
		case store.IconReporting:
			cell.SetStyle(tcell.StyleDefault.Foreground(tcell.ColorGreen))
		}
		return cell
	}

	if style == (dashboard.CellStyle{}) {
		return cell
	}
	return cell.SetStyle(cellStyle(style)).SetTransparency(style.Background == "")
}

func cellStyle(s dashboard.CellStyle) tcell.Style {
	st := tcell.StyleDefault.Bold(s.Bold)
	if s.Color != "" {
		st = st.Foreground(tcell.GetColor(s.Color))
	}
	if s.Background != "" {
		st = st.Background(tcell.GetColor(s.Background))
	}
	return st
}

// plainMarker flags styled cells when colors are off: "!" for a bold
// discrepancy, "~" for a background-only highlight.
func plainMarker(style dashboard.CellStyle) string {
	switch {
	case style.Bold:
		return " !"
	case style.Background != "":
		return " ~"
	default:
		return ""
	}
}

func (v *View) RenderStatistics(stats domain.Statistics) {
	v.update(func() {
		v.summary.SetText(fmt.Sprintf("tracked: %d  in revenue service: %d  in emergency: %d",
			stats.VehiclesTracked, stats.VehiclesInRevenueService, stats.VehiclesInEmergency))
	})
}

func (v *View) ShowLastUpdated(at time.Time) {
	v.update(func() {
		v.status.SetText("last updated: " + dashboard.LastUpdatedText(at))
	})
}

func (v *View) ShowError(err error) {
	msg := v.escape("error: " + err.Error())
	if v.color {
		msg = "[red]" + msg + "[-]"
	}
	v.appendOutput(msg)
}

// ShowChanges adds pushed changes to the live line. The line resets with
// the next rendered page.
func (v *View) ShowChanges(c domain.ChangeSummary) {
	v.update(func() {
		v.changes.Merge(c)
		v.live.SetText(v.liveText())
	})
}

func (v *View) liveText() string {
	c := v.changes
	text := fmt.Sprintf("live: %d updated, %d removed since last refresh", c.Updated, c.Removed)
	if len(c.Depots) > 0 {
		text += " in " + strings.Join(c.Depots, ", ")
	}
	if len(c.Emergencies) > 0 {
		emergencies := "emergency: " + strings.Join(c.Emergencies, ", ")
		if v.color {
			emergencies = "[red::b]" + v.escape(emergencies) + "[-::-]"
		}
		text += "; " + emergencies
	}
	return text
}

// ShowLiveStatus replaces the live line with a connection notice.
func (v *View) ShowLiveStatus(text string) {
	v.update(func() {
		v.live.SetText(v.escape(text))
	})
}

// Open shows the refresh rate prompt.
func (v *View) Open() {
	v.dialogOpen.Store(true)
	v.update(func() {
		v.rate.SetText("")
		v.pages.ShowPage(pageRate)
		v.focus(v.rate)
	})
}

func (v *View) Close() {
	v.dialogOpen.Store(false)
	v.update(func() {
		v.pages.HidePage(pageRate)
		v.focus(v.command)
	})
}

func (v *View) DialogOpen() bool {
	return v.dialogOpen.Load()
}

// ShowVehicle lists one vehicle's full status in the info pane.
func (v *View) ShowVehicle(vs domain.VehicleStatus) {
	v.showInfo("vehicle "+vs.VehicleID, [][2]string{
		{"depot", vs.Depot},
		{"route", vs.Route},
		{"inferred state", vs.InferredState},
		{"destination", vs.InferredDestination},
		{"inferred dsc", vs.InferredDSC},
		{"observed dsc", vs.ObservedDSC},
		{"emergency", fmt.Sprint(vs.Emergency)},
		{"formal inference", fmt.Sprint(vs.FormalInference)},
		{"pull-out", formatTime(vs.PulloutTime)},
		{"pull-in", formatTime(vs.PullinTime)},
		{"last report", formatTime(vs.Timestamp)},
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return dashboard.LastUpdatedText(t)
}

// ShowOptions lists the selectable filter values.
func (v *View) ShowOptions(opts domain.FilterOptions) {
	v.showInfo("filter options", [][2]string{
		{"depot", optionList(opts.Depots)},
		{"inferredState", optionList(opts.InferredStates)},
		{"pulloutStatus", optionList(opts.PulloutStatuses)},
	})
}

func optionList(values []string) string {
	return strings.Join(append([]string{domain.FilterAll}, values...), ", ")
}

// ShowState lists the active filters and refresh settings.
func (v *View) ShowState(s dashboard.State) {
	params := s.Filters.ToQueryParams()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	rows := make([][2]string, 0, len(keys)+3)
	for _, k := range keys {
		rows = append(rows, [2]string{k, params[k]})
	}

	auto := "off"
	if s.AutoRefresh {
		auto = "on"
	}
	rows = append(rows, [2]string{"grid", fmt.Sprintf("%s, page %d", s.Grid.State, s.Grid.Page)})
	if sort := s.Grid.Sort.String(); sort != "" {
		rows = append(rows, [2]string{"sort", sort})
	}
	rows = append(rows, [2]string{"auto refresh", fmt.Sprintf("%s, every %ds", auto, s.RefreshSeconds)})

	v.showInfo("filters", rows)
}

func (v *View) showInfo(title string, rows [][2]string) {
	v.update(func() {
		v.info.Clear()
		v.info.SetTitle(" " + tview.Escape(title) + " ")
		for i, row := range rows {
			key := tview.NewTableCell(row[0]).SetAttributes(tcell.AttrBold)
			if v.color {
				key.SetTextColor(tcell.ColorAqua)
			}
			v.info.SetCell(i, 0, key)
			v.info.SetCell(i, 1, tview.NewTableCell(tview.Escape(row[1])).SetExpansion(1))
		}
		v.info.ScrollToBeginning()
	})
}

func (v *View) Println(a ...any) {
	v.appendOutput(v.escape(strings.TrimSuffix(fmt.Sprintln(a...), "\n")))
}

// escape protects text written to a text view that parses style tags.
func (v *View) escape(text string) string {
	if !v.color {
		return text
	}
	return tview.Escape(text)
}

func (v *View) appendOutput(text string) {
	v.update(func() {
		fmt.Fprintln(v.output, text)
		v.output.ScrollToEnd()
	})
}
