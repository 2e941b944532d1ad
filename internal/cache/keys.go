package cache

import "github.com/wavelearn/genflow/pkg/models"

func ResultKey(target models.GenerationTarget) string {
	return "genflow:content:" + target.Key()
}

func RateLimitKey(keyPrefix string) string {
	return "genflow:ratelimit:" + keyPrefix
}
