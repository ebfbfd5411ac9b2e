package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ActiveTabKey returns the hash holding the token and last beat of the tab
// currently running a user's attempt.
func (r *CacheKeyStruct) ActiveTabKey(examID string, userID int) string {
	return fmt.Sprintf("proctor:user:%d:exam:%s:active_tab", userID, examID)
}

// ExamMonitorChannel returns the Redis PubSub channel carrying live action
// records for an exam.
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
