package messaging

import (
	"math"
	"time"
)

// Paging limits for message listings.
const (
	defaultPageSize = 30
	maxPageSize     = 100
)

const (
	// Upper bound for a single best-effort notification call.
	defaultNotifyTimeout = 3 * time.Second

	// NotificationNewMessage is the notification kind emitted on append.
	NotificationNewMessage = "new_message"
)

func normalizePaging(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// pageOffset is the number of newest messages skipped before page. Pages far
// past any history saturate instead of wrapping around to the newest page.
func pageOffset(page, pageSize int) int {
	if page-1 > (math.MaxInt-pageSize)/pageSize {
		return math.MaxInt - pageSize
	}
	return (page - 1) * pageSize
}
