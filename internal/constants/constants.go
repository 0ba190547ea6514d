package constants

const (
	APP_CART_SYNC       = "cartsync"
	APP_TAB_HOST        = "cart-tab"
	APP_CATALOG_SERVICE = "catalog-service"
)
