package server

import "github.com/raysh454/ztguard/internal/scanner"

// ScanRequest is the payload of POST /api/urls/scan.
type ScanRequest struct {
	URL string `json:"url" example:"http://192.168.1.1/login/verify"`
}

// BatchScanRequest is the payload of POST /api/urls/scan/batch.
type BatchScanRequest struct {
	URLs []string `json:"urls" example:"[\"https://example.com\",\"http://paypa1.com/signin\"]"`
}

// BatchScanResponse wraps the per-URL outcomes in request order.
type BatchScanResponse struct {
	Results []scanner.BatchItem `json:"results"`
	Total   int                 `json:"total" example:"2"`
	Failed  int                 `json:"failed" example:"0"`
}

// StatusUpdateRequest moves a threat record along its status workflow.
type StatusUpdateRequest struct {
	NewStatus string `json:"new_status" example:"resolved"`
}

// AlertUpdateRequest sets the read and acknowledged flags of an alert.
type AlertUpdateRequest struct {
	IsRead         *bool `json:"is_read,omitempty" example:"true"`
	IsAcknowledged *bool `json:"is_acknowledged,omitempty" example:"false"`
}

// CreateAlertRequest raises an alert by hand.
type CreateAlertRequest struct {
	Title       string         `json:"title" example:"Suspicious login page"`
	Description string         `json:"description" example:"Reported by the help desk"`
	Severity    string         `json:"severity" example:"medium"`
	AlertType   string         `json:"alert_type,omitempty" example:"manual"`
	EntityKey   string         `json:"entity_key,omitempty" example:"http://phish.test/login"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AcknowledgeAllRequest optionally narrows acknowledge-all to one severity.
type AcknowledgeAllRequest struct {
	Severity string `json:"severity,omitempty" example:"critical"`
}

// ConnectionRequest is one observed connection.
type ConnectionRequest struct {
	SourceIP          string `json:"source_ip" example:"10.0.0.2"`
	DestinationIP     string `json:"destination_ip,omitempty" example:"203.0.113.7"`
	DestinationDomain string `json:"destination_domain,omitempty" example:"example.com"`
	DestinationPort   int    `json:"destination_port,omitempty" example:"443"`
	Protocol          string `json:"protocol,omitempty" example:"tcp"`
	BytesSent         int64  `json:"bytes_sent" example:"512"`
	BytesReceived     int64  `json:"bytes_received" example:"2048"`
}

// BlockRequest carries the optional reason of POST /api/network/block/{ip}.
type BlockRequest struct {
	Reason string `json:"reason,omitempty" example:"port scanning"`
}

// DomainRequest adds a domain to an intel list.
type DomainRequest struct {
	Domain string `json:"domain" example:"phish.test"`
}

// CountResponse reports how many rows a bulk operation changed.
type CountResponse struct {
	Updated int64 `json:"updated" example:"12"`
}

// IntelResponse is the body of GET /api/intel.
type IntelResponse struct {
	Blacklist      []string `json:"blacklist"`
	Whitelist      []string `json:"whitelist"`
	BlacklistCount int      `json:"blacklist_count"`
	WhitelistCount int      `json:"whitelist_count"`
	LastUpdate     *string  `json:"last_update"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error" example:"not found"`
	Kind  string `json:"kind,omitempty" example:"not_found"`
}
