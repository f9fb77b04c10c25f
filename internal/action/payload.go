package action

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"shopagent/internal/core"
)

// missingField returns the first key absent from payload, or "".
func missingField(payload core.Payload, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k]; !ok || v == nil {
			return k
		}
	}
	return ""
}

func stringField(payload core.Payload, key, def string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == math.Trunc(val) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func intField(payload core.Payload, key string, def int) int {
	v, ok := payload[key]
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n
		}
	}
	return def
}

// pause waits for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
