package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/altverseweb3/backend/internal/models"
	"github.com/altverseweb3/backend/internal/observability"
	"github.com/altverseweb3/backend/internal/periods"
	"github.com/altverseweb3/backend/internal/repository"
	"go.uber.org/zap"
)

type Option func(*options)

type options struct {
	now     func() time.Time
	metrics *observability.Metrics
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// MetricsService turns business events into counter updates
type MetricsService struct {
	repo    *repository.MetricsRepository
	now     func() time.Time
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewMetricsService(repo *repository.MetricsRepository, logger *zap.Logger, opts ...Option) *MetricsService {
	o := buildOptions(opts)
	return &MetricsService{
		repo:    repo,
		now:     o.now,
		logger:  logger,
		metrics: o.metrics,
	}
}

// Record validates the event and applies all of its counter updates in one
// transaction. Nothing is written when it returns an error.
func (s *MetricsService) Record(ctx context.Context, eventType models.EventType, payload map[string]interface{}, ipAddress string) error {
	spec, ok := models.LookupEvent(eventType)
	if !ok {
		s.metrics.RecordEvent("unknown", "rejected")
		return fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	if missing := missingFields(spec.Required, payload); len(missing) > 0 {
		s.metrics.RecordEvent(string(eventType), "rejected")
		return &ValidationError{
			Missing: missing,
			Message: fmt.Sprintf("%s payload missing required fields: %s", titleCase(string(eventType)), strings.Join(missing, ", ")),
		}
	}

	if spec.HasUser() && userAddress(payload) == "" {
		s.metrics.RecordEvent(string(eventType), "rejected")
		return &ValidationError{
			Missing: []string{"user_address"},
			Message: fmt.Sprintf("%s payload missing required fields: user_address", titleCase(string(eventType))),
		}
	}

	if bad := separatedDimensions(spec, payload); len(bad) > 0 {
		s.metrics.RecordEvent(string(eventType), "rejected")
		return &ValidationError{
			Message: fmt.Sprintf("%s payload fields must not contain %q: %s", titleCase(string(eventType)), spec.BreakdownSep, strings.Join(bad, ", ")),
		}
	}

	now := s.now().UTC()

	var err error
	if spec.HasUser() {
		err = s.recordActivity(ctx, spec, payload, ipAddress, now)
	} else {
		err = s.repo.RecordEntrance(ctx, periods.For(now))
	}

	if err != nil {
		s.metrics.RecordEvent(string(eventType), "error")
		s.logger.Error("failed to record event",
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to record %s event: %w", eventType, err)
	}

	s.metrics.RecordEvent(string(eventType), "recorded")
	return nil
}

func (s *MetricsService) recordActivity(ctx context.Context, spec models.EventSpec, payload map[string]interface{}, ipAddress string, now time.Time) error {
	user := userAddress(payload)
	current := periods.For(now)

	record := make(map[string]interface{}, len(payload)+1)
	for name, value := range payload {
		if value == nil {
			continue
		}
		record[name] = stringify(value)
	}
	record["user_address"] = user
	record[models.FieldTxType] = spec.RecordPrefix

	return s.repo.RecordActivity(ctx, user, func(existing *models.UserStats) (*repository.Activity, error) {
		return &repository.Activity{
			Spec:      spec,
			User:      user,
			IPAddress: ipAddress,
			At:        now,
			Periods:   current,
			RecordSK:  models.EventSK(spec.RecordPrefix, stringify(payload["timestamp"]), stringify(payload["tx_hash"])),
			Record:    record,
			Breakdown: models.BreakdownKey{
				Event:  spec.Type,
				First:  stringify(payload[spec.FirstDimension]),
				Second: stringify(payload[spec.SecondDimension]),
			},
			NewUser: existing == nil,
			Active:  s.activeIncrements(existing, current),
		}, nil
	})
}

// Marks each rollup in which this is the user's first action. A new user is
// active everywhere; an existing one only where the bucket of their last
// action differs from the current bucket.
func (s *MetricsService) activeIncrements(existing *models.UserStats, current periods.Set) map[periods.Type]int64 {
	active := make(map[periods.Type]int64, len(periods.Rollups))

	if existing == nil {
		for _, typ := range periods.Rollups {
			active[typ] = 1
		}
		return active
	}

	if existing.LastActiveTimestamp == "" {
		return active
	}

	last, err := time.Parse(time.RFC3339, existing.LastActiveTimestamp)
	if err != nil {
		// Counted as not active in any rollup
		s.logger.Warn("unparseable last active timestamp",
			zap.String("value", existing.LastActiveTimestamp),
			zap.Error(err),
		)
		return active
	}

	previous := periods.For(last)
	for _, typ := range periods.Rollups {
		if previous.Key(typ) != current.Key(typ) {
			active[typ] = 1
		}
	}

	return active
}

// Returns the required fields that are absent or null, in declaration order
func missingFields(required []string, payload map[string]interface{}) []string {
	var missing []string
	for _, field := range required {
		if v, ok := payload[field]; !ok || v == nil {
			missing = append(missing, field)
		}
	}
	return missing
}

// Addresses are keyed without surrounding whitespace, the same way lookups
// normalise them
func userAddress(payload map[string]interface{}) string {
	return strings.TrimSpace(stringify(payload["user_address"]))
}

// Returns the breakdown dimension fields whose value contains the separator
// joining them in the breakdown key
func separatedDimensions(spec models.EventSpec, payload map[string]interface{}) []string {
	if spec.BreakdownSep == "" {
		return nil
	}

	var bad []string
	for _, field := range []string{spec.FirstDimension, spec.SecondDimension} {
		if strings.Contains(stringify(payload[field]), spec.BreakdownSep) {
			bad = append(bad, field)
		}
	}
	return bad
}

// Renders a payload value for storage. Nested values are kept as JSON.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
