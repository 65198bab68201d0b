package model

// SummaryRes aggregates dispatch statistics for the admin dashboard.
type SummaryRes struct {
	GatewayConfigured bool           `json:"gatewayConfigured"`
	Pending           int            `json:"pending"`
	SentToday         int            `json:"sentToday"`
	TotalSent         int            `json:"totalSent"`
	TotalFailed       int            `json:"totalFailed"`
	ByCategory        map[string]int `json:"byCategory"`
	ByPriority        map[string]int `json:"byPriority"`
	ActiveDeviceNum   int            `json:"activeDeviceNum"`
	AllDeviceNum      int            `json:"allDeviceNum"`
}
