package page

// Selectors and attributes the authority's markup is expected to carry.
const (
	CountdownSelector       = ".auction-time-countdown"
	MainCountdownClass      = "main-auction"
	FutureClass             = "future"
	OutcomeRegionSelector   = ".auction-ajax-change"
	AuctionFormSelectorFmt  = ".auction_form[data-product_id='%s']"
	PurchaseActionSelector  = "form.buy-now"
	WorkingIndicatorClass   = "ajax-working"
	WorkingIndicatorHTML    = `<div class="ajax-working"></div>`
	ResultsSelector         = "#product-data"
	HighlightSelector       = "#cat-sorting"
	PaginationSelector      = "#paginationData"
	LoadingClass            = "egns-loading"
	LoggedInClass           = "logged-in"
	PageTemplateClassPrefix = "page-template-"

	AttrAuctionID = "data-auctionid"
	AttrTime      = "data-time"
	AttrFormat    = "data-format"
	AttrCompact   = "data-compact"
)
