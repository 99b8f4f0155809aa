package authority_client

const (
	// DefaultAjaxPath is the WordPress AJAX entry point the listing actions post to.
	DefaultAjaxPath = "/wp-admin/admin-ajax.php"

	// DefaultFinishAuctionPath mirrors the auctions plugin's own ajax url
	// ("?wsa-ajax") suffixed with the finish action.
	DefaultFinishAuctionPath = "/?wsa-ajax=finish_auction"

	// DefaultPagePath is the listing page loaded on start and on reload.
	DefaultPagePath = "/auctions/"

	HealthCheckPath = "/api/health-check/"

	// Bid channel served by the backend's auction consumer.
	bidFeedPathFormat = "/ws/auctions/%s/"

	actionParam       = "action"
	finishAction      = "finish_auction"
	acceptHeader      = "Accept"
	requestedWithName = "X-Requested-With"
	requestedWithAjax = "XMLHttpRequest"
)
