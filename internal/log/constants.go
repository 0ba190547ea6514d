package log

const (
	KEY_APP_NAME     = "app"
	KEY_TAG          = "tag"
	KEY_PROCESS      = "process"
	KEY_CONFIG       = "config"
	KEY_REQUEST_ID   = "requestId"
	KEY_TRACE_ID     = "traceId"
	KEY_SPAN_ID      = "spanId"
	KEY_TAB_ID       = "tabId"
	KEY_STORAGE_KEY  = "storageKey"
	KEY_CHANNEL      = "channel"
	KEY_CARD_ID      = "cardId"
	KEY_CONDITION    = "condition"
	KEY_QUANTITY     = "quantity"
	KEY_KNOWN_STOCK  = "knownStock"
	KEY_VERSION      = "version"
	KEY_LOCAL_VER    = "localVersion"
	KEY_REMOTE_VER   = "incomingVersion"
	KEY_LINE_COUNT   = "lineCount"
	KEY_SWEEP_PASS   = "sweepPass"
	KEY_NOTIFICATION = "notification"

	KEY_REQUEST_HOST   = "host"
	KEY_REQUEST_IP     = "requesterIP"
	KEY_REQUEST_METHOD = "requestMethod"
	KEY_REQUEST_URI    = "requestURI"
	KEY_REQUEST_URL    = "requestURL"
	KEY_REQUEST_HEADER = "requestHeader"
	KEY_REQUEST_BODY   = "requestBody"
)
