package service

import (
	"context"
	"time"

	"github.com/pushgate-labs/pushgate/internal/model"
	"github.com/pushgate-labs/pushgate/internal/storage"
)

// ReportService aggregates dispatch statistics for the admin dashboard.
type ReportService struct {
	store             storage.Store
	gatewayConfigured bool
}

// NewReportService builds ReportService.
func NewReportService(store storage.Store, gatewayConfigured bool) *ReportService {
	return &ReportService{store: store, gatewayConfigured: gatewayConfigured}
}

// Summary computes pending/sent/failed totals, today's sent count and
// per-category/per-priority breakdowns.
func (s *ReportService) Summary(ctx context.Context) (*model.SummaryRes, error) {
	notifications, err := s.store.ListNotifications(ctx)
	if err != nil {
		return nil, err
	}
	res := &model.SummaryRes{
		GatewayConfigured: s.gatewayConfigured,
		ByCategory:        make(map[string]int),
		ByPriority:        make(map[string]int),
	}
	todayStart := time.Now().UTC().Truncate(24 * time.Hour)
	for _, n := range notifications {
		res.ByCategory[n.Category]++
		res.ByPriority[string(n.Priority)]++
		switch n.Status {
		case model.StatusPending:
			res.Pending++
		case model.StatusSent:
			res.TotalSent++
			if n.SentAt != nil && !n.SentAt.Before(todayStart) {
				res.SentToday++
			}
		case model.StatusFailed:
			res.TotalFailed++
		}
	}

	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	res.AllDeviceNum = len(devices)
	for _, device := range devices {
		if device.Active(now) {
			res.ActiveDeviceNum++
		}
	}
	return res, nil
}
