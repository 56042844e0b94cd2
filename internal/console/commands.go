package console

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"vehiclestatus/internal/dashboard"
	"vehiclestatus/internal/domain"
	"vehiclestatus/internal/store"
	"vehiclestatus/pkg/statusapi"
)

var errUsage = errors.New("usage")

// Command is one parsed console line.
type Command struct {
	Name string
	Args []string
}

func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errors.New("empty command")
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}, nil
}

// filterSetter applies one validated filter assignment.
type filterSetter func(*dashboard.FilterState)

// parseAssignments turns key=value arguments into filter setters. Selector
// values are checked against opts when the server supplied any.
func parseAssignments(args []string, opts domain.FilterOptions) ([]filterSetter, error) {
	setters := make([]filterSetter, 0, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		set, err := filterAssignment(strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value), opts)
		if err != nil {
			return nil, err
		}
		setters = append(setters, set)
	}
	return setters, nil
}

func filterAssignment(key, value string, opts domain.FilterOptions) (filterSetter, error) {
	switch key {
	case "vehicle", "vehicleid":
		return func(f *dashboard.FilterState) { f.VehicleID = value }, nil
	case "route":
		return func(f *dashboard.FilterState) { f.Route = value }, nil
	case "dsc":
		return func(f *dashboard.FilterState) { f.DSC = value }, nil
	case "depot":
		v, err := selectorValue("depot", value, opts.Depots)
		return func(f *dashboard.FilterState) { f.Depot = v }, err
	case "state", "inferredstate":
		v, err := selectorValue("inferredState", value, opts.InferredStates)
		return func(f *dashboard.FilterState) { f.InferredState = v }, err
	case "pullout", "pulloutstatus":
		v, err := selectorValue("pulloutStatus", value, opts.PulloutStatuses)
		return func(f *dashboard.FilterState) { f.PulloutStatus = v }, err
	case "emergency", "emergencystatus":
		b, err := parseFlag(key, value)
		return func(f *dashboard.FilterState) { f.EmergencyOnly = b }, err
	case "formal", "formalinference":
		b, err := parseFlag(key, value)
		return func(f *dashboard.FilterState) { f.FormalInferenceOnly = b }, err
	default:
		return nil, fmt.Errorf("unknown filter %q", key)
	}
}

func selectorValue(name, value string, options []string) (string, error) {
	if value == "" || strings.EqualFold(value, domain.FilterAll) {
		return domain.FilterAll, nil
	}
	if len(options) == 0 {
		return value, nil
	}
	i := slices.IndexFunc(options, func(o string) bool { return strings.EqualFold(o, value) })
	if i < 0 {
		return "", fmt.Errorf("unknown %s %q (see 'options')", name, value)
	}
	return options[i], nil
}

func parseFlag(name, value string) (bool, error) {
	switch strings.ToLower(value) {
	case "", "false", "no", "off":
		return false, nil
	case "true", "yes", "on":
		return true, nil
	default:
		return false, fmt.Errorf("%s must be true or false, got %q", name, value)
	}
}

func parseOnOff(args []string) (bool, error) {
	if len(args) != 1 {
		return false, errUsage
	}
	switch strings.ToLower(args[0]) {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	default:
		return false, errUsage
	}
}

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("expected a positive number, got %q", s)
	}
	return n, nil
}

// parseSort accepts "field", "field asc|desc" or "field,asc|desc".
func parseSort(args []string) (statusapi.SortSpec, error) {
	if len(args) == 0 || len(args) > 2 {
		return statusapi.SortSpec{}, errUsage
	}
	order := statusapi.ParseSort(args[0])
	if len(args) == 2 {
		switch strings.ToLower(args[1]) {
		case "asc":
			order.Desc = false
		case "desc":
			order.Desc = true
		default:
			return statusapi.SortSpec{}, fmt.Errorf("sort direction must be asc or desc, got %q", args[1])
		}
	}
	if !store.IsSortable(order.Field) {
		return statusapi.SortSpec{}, fmt.Errorf("cannot sort by %q", order.Field)
	}
	return order, nil
}

const helpText = `commands:
  set key=value ...       change filters without reloading
  search [key=value ...]  apply filters and reload from page 1
  reset                   clear filters and reload
  refresh                 clear filters, reload and drop pending timer reloads
  auto on|off             toggle auto refresh
  rate [seconds]          open the refresh rate prompt, or set the rate
  page N|next|prev        go to a page
  sort field [asc|desc]   sort the grid
  details ref|#row        show one vehicle
  filters                 show active filters and refresh settings
  options                 list selectable filter values
  help                    show this help
  quit                    leave the console
filter keys: vehicleId, route, depot, dsc, inferredState, pulloutStatus, emergency, formal`
