package server

import (
	"context"
	"time"

	"inksprint/server/internal/protocol"
	"inksprint/server/internal/store"
)

// localDateSkew bounds how far a client-supplied day bin may drift from
// the server clock before it is ignored.
const localDateSkew = 48 * time.Hour

func (s *Server) handleSyncData(ctx context.Context, c *session, req protocol.Request) error {
	ok := protocol.Response{Type: protocol.TypeSyncResponse, Status: protocol.StatusOK}
	if req.Increment <= 0 && req.Duration <= 0 {
		return c.Send(ok)
	}

	now := s.now()
	endTime := now
	if req.Timestamp > 0 {
		endTime = time.Unix(req.Timestamp, 0)
	}

	// The client's local date wins for daily binning so multi-timezone
	// users see their own midnight, unless the clock is wildly off.
	reportDate := ""
	if req.LocalDate != "" {
		if d, err := time.Parse("2006-01-02", req.LocalDate); err == nil {
			if diff := d.Sub(now); diff < localDateSkew && diff > -localDateSkew {
				reportDate = req.LocalDate
			}
		}
	}

	res, err := s.st.RecordActivity(ctx, store.ActivityInput{
		UserID:     c.userID,
		Increment:  req.Increment,
		Duration:   req.Duration,
		SourceType: req.Source,
		EndTime:    endTime,
		ReportDate: reportDate,
	})
	if err != nil {
		_ = c.Send(protocol.Response{Type: protocol.TypeSyncResponse, Status: protocol.StatusError})
		return err
	}

	if res.SprintGroupID != 0 {
		members, err := s.st.MemberIDs(ctx, res.SprintGroupID)
		if err != nil {
			_ = c.Send(protocol.Response{Type: protocol.TypeSyncResponse, Status: protocol.StatusError})
			return err
		}
		s.reg.SendMany(members, protocol.SprintStatusPush{Type: protocol.TypeSprintStatusPush, GroupID: res.SprintGroupID})
	}
	return c.Send(ok)
}

func (s *Server) handleGetAnalytics(ctx context.Context, c *session, req protocol.Request) error {
	from := s.now().AddDate(0, 0, -store.HeatmapDays).Format("2006-01-02")
	heatmap, err := s.st.Heatmap(ctx, c.userID, from)
	if err != nil {
		_ = c.Send(protocol.AnalyticsData{Type: protocol.TypeAnalyticsData, Status: protocol.StatusError})
		return err
	}
	return c.Send(protocol.AnalyticsData{Type: protocol.TypeAnalyticsData, Status: protocol.StatusSuccess, Heatmap: heatmap})
}

func (s *Server) handleGetDetails(ctx context.Context, c *session, req protocol.Request) error {
	rows, err := s.st.RecentDetails(ctx, c.userID, store.DetailsLimit)
	if err != nil {
		_ = c.Send(protocol.DetailsData{Type: protocol.TypeDetailsData, Status: protocol.StatusError})
		return err
	}
	data := make([]protocol.DetailEntry, 0, len(rows))
	for _, r := range rows {
		data = append(data, protocol.DetailEntry{
			Time:      time.Unix(r.EndTime, 0).Format(timeLayout),
			Increment: r.Increment,
			Duration:  r.Duration,
		})
	}
	return c.Send(protocol.DetailsData{Type: protocol.TypeDetailsData, Status: protocol.StatusSuccess, Data: data})
}
