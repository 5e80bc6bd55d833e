package obs

import (
	"context"
	"log"
	"time"
)

type ctxKey string

const RequestIDKey ctxKey = "req_id"

// SlowThreshold is the duration above which successful operations are logged.
var SlowThreshold = 250 * time.Millisecond

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// Time logs failed or slow operations:
//
//	defer obs.Time(ctx, "db.ApplyReport")(&err)
func Time(ctx context.Context, name string) func(errp *error) {
	start := time.Now()
	reqID := RequestID(ctx)

	return func(errp *error) {
		dur := time.Since(start)

		if errp != nil && *errp != nil {
			log.Printf("req_id=%s op=%s dur=%dms err=%v", reqID, name, dur.Milliseconds(), *errp)
			return
		}
		if dur >= SlowThreshold {
			log.Printf("req_id=%s op=%s dur=%dms slow", reqID, name, dur.Milliseconds())
		}
	}
}
