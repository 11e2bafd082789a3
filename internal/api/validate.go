package api

import (
	"fmt"
	"regexp"
	"strings"

	"dispatchd/internal/model"
)

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func validDate(s string) bool { return dateRe.MatchString(s) }

func validateOrderIn(o *model.DailyOrder) error {
	if !validDate(o.Date) {
		return fmt.Errorf("date must be YYYY-MM-DD, got %q", o.Date)
	}
	if strings.TrimSpace(o.PickupAddress) == "" || strings.TrimSpace(o.DropoffAddress) == "" {
		return fmt.Errorf("pickup and dropoff addresses are required")
	}
	if o.PickupTime == "" {
		return fmt.Errorf("pickupTime is required")
	}
	if o.Status != "" && o.Status != model.OrderFetched {
		return fmt.Errorf("new orders must have status %q", model.OrderFetched)
	}
	return nil
}

func validateSubscription(req *model.SubscriptionRequest) error {
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return fmt.Errorf("url must be http(s)")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("at least one event type is required")
	}
	return nil
}
