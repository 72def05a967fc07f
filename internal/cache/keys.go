package cache

import "fmt"

func WorkflowKey(id int64) string {
	return fmt.Sprintf("workflow:%d", id)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}
