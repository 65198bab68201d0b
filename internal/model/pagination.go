package model

// NotificationPage is one page of a recipient's visible notifications.
type NotificationPage struct {
	Data     []*Notification `json:"data"`
	Total    int             `json:"total"`
	Pages    int             `json:"pages"`
	PageNum  int             `json:"pageNum"`
	PageSize int             `json:"pageSize"`
}
