package listing

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mcdev12/auctionsync/go/internal/page"
)

var ErrUnknownAction = errors.New("unknown listing action")

// Action is a listing control the viewer can use.
type Action string

const (
	ActionSort                Action = "sort"
	ActionFilterByType        Action = "filterByType"
	ActionFilterByCategory    Action = "filterByCategory"
	ActionFilterByStatus      Action = "filterByStatus"
	ActionFilterByPeriod      Action = "filterByPeriod"
	ActionSearch              Action = "search"
	ActionHighlightByCategory Action = "highlightByCategory"
)

// Parameter names.
const (
	ParamOrderBy      = "orderby"
	ParamFilters      = "filters"
	ParamCategories   = "categories"
	ParamStatus       = "status"
	ParamPeriod       = "period"
	ParamSearchTerm   = "search_term"
	ParamCategory     = "cat"
	ParamPageTemplate = "page_template"
	ParamPaged        = "paged"
)

type route struct {
	wire   string
	target string
	// params lists the accepted parameter names; list parameters are sent
	// with a [] suffix.
	params         []string
	lists          map[string]bool
	hidePagination bool
	// checkboxes is the form whose checked boxes supply the list parameter
	// when the caller sends none.
	checkboxes string
}

var routes = map[Action]route{
	ActionSort: {
		wire:   "filter_products",
		target: page.ResultsSelector,
		params: []string{ParamOrderBy},
	},
	ActionFilterByType: {
		wire:           "filter_auction_items",
		target:         page.ResultsSelector,
		params:         []string{ParamFilters},
		lists:          map[string]bool{ParamFilters: true},
		hidePagination: true,
		checkboxes:     "#auction-filters",
	},
	ActionFilterByCategory: {
		wire:           "filter_cat_products_ajax",
		target:         page.ResultsSelector,
		params:         []string{ParamCategories},
		lists:          map[string]bool{ParamCategories: true},
		hidePagination: true,
		checkboxes:     "#product-categories",
	},
	ActionFilterByStatus: {
		wire:           "fetch_auction_products",
		target:         page.ResultsSelector,
		params:         []string{ParamStatus},
		hidePagination: true,
	},
	ActionFilterByPeriod: {
		wire:           "filter_auction_products",
		target:         page.ResultsSelector,
		params:         []string{ParamPeriod},
		hidePagination: true,
	},
	ActionSearch: {
		wire:           "ajax_search_products",
		target:         page.ResultsSelector,
		params:         []string{ParamSearchTerm},
		hidePagination: true,
	},
	ActionHighlightByCategory: {
		wire:   "highlight_auction",
		target: page.HighlightSelector,
		params: []string{ParamCategory},
	},
}

// ParseAction accepts the action names used by the gateway routes.
func ParseAction(s string) (Action, error) {
	a := Action(strings.TrimSpace(s))
	if _, ok := routes[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return a, nil
}

func Actions() []Action {
	return []Action{
		ActionSort,
		ActionFilterByType,
		ActionFilterByCategory,
		ActionFilterByStatus,
		ActionFilterByPeriod,
		ActionSearch,
		ActionHighlightByCategory,
	}
}

// WireAction is the authority's name for a.
func (a Action) WireAction() string {
	return routes[a].wire
}

// Target is the selector of the region a replaces.
func (a Action) Target() string {
	return routes[a].target
}

// SyncRequest is one listing action with its parameters, keyed by the names
// above without the [] suffix.
type SyncRequest struct {
	Action Action
	Params url.Values
}

func Sort(orderBy string) SyncRequest {
	return SyncRequest{Action: ActionSort, Params: url.Values{ParamOrderBy: {orderBy}}}
}

func FilterByType(filters ...string) SyncRequest {
	return SyncRequest{Action: ActionFilterByType, Params: url.Values{ParamFilters: filters}}
}

func FilterByCategory(categories ...string) SyncRequest {
	return SyncRequest{Action: ActionFilterByCategory, Params: url.Values{ParamCategories: categories}}
}

func FilterByStatus(status string) SyncRequest {
	return SyncRequest{Action: ActionFilterByStatus, Params: url.Values{ParamStatus: {status}}}
}

func FilterByPeriod(period string) SyncRequest {
	return SyncRequest{Action: ActionFilterByPeriod, Params: url.Values{ParamPeriod: {period}}}
}

func Search(term string) SyncRequest {
	return SyncRequest{Action: ActionSearch, Params: url.Values{ParamSearchTerm: {term}}}
}

func HighlightByCategory(cat string) SyncRequest {
	return SyncRequest{Action: ActionHighlightByCategory, Params: url.Values{ParamCategory: {cat}}}
}

// encode builds the form body for r, without the action name.
func (r route) encode(params url.Values, pageTemplate string) url.Values {
	out := url.Values{}
	for _, name := range r.params {
		values := params[name]
		if r.lists[name] {
			if len(values) == 0 {
				values = params[name+"[]"]
			}
			for _, v := range values {
				out.Add(name+"[]", v)
			}
			continue
		}
		if len(values) > 0 {
			out.Set(name, values[0])
		}
	}
	out.Set(ParamPageTemplate, pageTemplate)
	return out
}

func (r route) listParam() string {
	for _, name := range r.params {
		if r.lists[name] {
			return name
		}
	}
	return ""
}
