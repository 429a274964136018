package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/altverseweb3/backend/internal/observability"
	"github.com/altverseweb3/backend/internal/periods"
	"github.com/altverseweb3/backend/internal/service"
	"github.com/gin-gonic/gin"
)

type AnalyticsHandler struct {
	service *service.AnalyticsService
	metrics *observability.Metrics
	queries map[string]query
}

type analyticsRequest struct {
	QueryType   string      `json:"queryType"`
	PeriodType  string      `json:"period_type"`
	StartDate   string      `json:"start_date"`
	Limit       interface{} `json:"limit"`
	Scope       string      `json:"scope"`
	LastKey     string      `json:"lastKey"`
	UserAddress string      `json:"user_address"`
}

type query struct {
	run func(ctx context.Context, req *analyticsRequest) (interface{}, error)

	// Returned with a 500 when run fails for any reason but bad input
	failure string
}

func NewAnalyticsHandler(svc *service.AnalyticsService, metrics *observability.Metrics) *AnalyticsHandler {
	h := &AnalyticsHandler{service: svc, metrics: metrics}

	h.queries = map[string]query{
		"total_activity_stats": {
			failure: "Could not fetch total activity stats",
			run: func(ctx context.Context, _ *analyticsRequest) (interface{}, error) {
				return svc.TotalActivity(ctx)
			},
		},
		"periodic_activity_stats": {
			failure: "Could not fetch periodic activity stats",
			run: func(ctx context.Context, req *analyticsRequest) (interface{}, error) {
				periodType, err := parsePeriodType(req.PeriodType)
				if err != nil {
					return nil, err
				}
				return svc.PeriodicActivity(ctx, periodType, parseLimit(req.Limit, service.DefaultPeriodLimit))
			},
		},
		"total_users": {
			failure: "Could not retrieve total user count",
			run: func(ctx context.Context, _ *analyticsRequest) (interface{}, error) {
				total, err := svc.TotalUsers(ctx)
				if err != nil {
					return nil, err
				}
				return gin.H{"total_users": total}, nil
			},
		},
		"periodic_user_stats": {
			failure: "Could not retrieve periodic user stats",
			run: func(ctx context.Context, req *analyticsRequest) (interface{}, error) {
				periodType, err := parsePeriodType(req.PeriodType)
				if err != nil {
					return nil, err
				}
				return svc.PeriodicUsers(ctx, periodType, parseLimit(req.Limit, service.DefaultPeriodLimit))
			},
		},
		"total_swap_stats": {
			failure: "Could not fetch total swap stats",
			run: func(ctx context.Context, _ *analyticsRequest) (interface{}, error) {
				return svc.TotalSwap(ctx)
			},
		},
		"periodic_swap_stats": {
			failure: "Could not fetch periodic swap stats",
			run: func(ctx context.Context, req *analyticsRequest) (interface{}, error) {
				if req.PeriodType == "" || req.StartDate == "" {
					return nil, badRequest("Missing required fields: 'period_type' and 'start_date'")
				}
				periodType, err := parsePeriodType(req.PeriodType)
				if err != nil {
					return nil, err
				}
				return svc.PeriodicSwap(ctx, periodType, req.StartDate)
			},
		},
		"total_lending_stats": {
			failure: "Could not fetch total lending stats",
			run: func(ctx context.Context, _ *analyticsRequest) (interface{}, error) {
				return svc.TotalLending(ctx)
			},
		},
		"periodic_lending_stats": {
			failure: "Could not fetch periodic lending stats",
			run: func(ctx context.Context, req *analyticsRequest) (interface{}, error) {
				periodType, err := parsePeriodType(req.PeriodType)
				if err != nil {
					return nil, err
				}
				return svc.PeriodicLending(ctx, periodType, parseLimit(req.Limit, service.DefaultPeriodLimit))
			},
		},
		"total_earn_stats": {
			failure: "Could not fetch total earn stats",
			run: func(ctx context.Context, _ *analyticsRequest) (interface{}, error) {
				return svc.TotalEarn(ctx)
			},
		},
		"periodic_earn_stats": {
			failure: "Could not fetch periodic earn stats",
			run: func(ctx context.Context, req *analyticsRequest) (interface{}, error) {
				periodType, err := parsePeriodType(req.PeriodType)
				if err != nil {
					return nil, err
				}
				return svc.PeriodicEarn(ctx, periodType, parseLimit(req.Limit, service.DefaultPeriodLimit))
			},
		},
		"leaderboard": {
			failure: "Could not query leaderboard data",
			run: func(ctx context.Context, req *analyticsRequest) (interface{}, error) {
				return svc.Leaderboard(ctx, req.Scope, parseLimit(req.Limit, service.DefaultLeaderboardLimit), req.LastKey)
			},
		},
		"user_leaderboard_entry": {
			failure: "Could not query user rank data",
			run: func(ctx context.Context, req *analyticsRequest) (interface{}, error) {
				return svc.UserEntry(ctx, req.UserAddress)
			},
		},
	}

	return h
}

// Handles POST /analytics
func (h *AnalyticsHandler) Query(c *gin.Context) {
	var req analyticsRequest
	if err := decodeBody(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	if req.QueryType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body must include 'queryType'"})
		return
	}

	q, ok := h.queries[req.QueryType]
	if !ok {
		h.metrics.RecordQuery("unknown", "rejected")
		c.Error(fmt.Errorf("%w: %q", service.ErrUnknownQueryType, req.QueryType))
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown queryType: '%s'", req.QueryType)})
		return
	}

	result, err := q.run(c.Request.Context(), &req)
	switch {
	case err == nil:
		h.metrics.RecordQuery(req.QueryType, "ok")
		c.JSON(http.StatusOK, result)
	case errors.Is(err, service.ErrInvalidArgument):
		h.metrics.RecordQuery(req.QueryType, "rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.metrics.RecordQuery(req.QueryType, "error")
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": q.failure})
	}
}

type badRequest string

func (e badRequest) Error() string { return string(e) }

func (e badRequest) Unwrap() error { return service.ErrInvalidArgument }

// Absent period_type reads as daily
func parsePeriodType(s string) (periods.Type, error) {
	if s == "" {
		return periods.Daily, nil
	}

	t, err := periods.ParseType(s)
	if err != nil {
		return "", badRequest(fmt.Sprintf("Invalid period_type '%s'. Must be 'daily', 'weekly' or 'monthly'.", s))
	}
	return t, nil
}

const maxLimitInput = 1 << 20

// Absent or non-numeric limits read as def. Numeric ones are clamped later.
func parseLimit(v interface{}, def int) int {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return def
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) {
		return def
	}
	return int(math.Max(-1, math.Min(n, maxLimitInput)))
}
