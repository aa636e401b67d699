package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// UserSessionKey holds the JTI of a student's single active login.
func (r *CacheKeyStruct) UserSessionKey(userID int) string {
	return fmt.Sprintf("login:%d", userID)
}

// TestPayloadKey returns the cache key for a test with its resolved questions.
func (r *CacheKeyStruct) TestPayloadKey(testID string) string {
	return fmt.Sprintf("test:%s:payload", testID)
}

// AttemptAnswersKey is the autosave hash of an attempt (question id → answer JSON).
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// UserActiveAttemptKey returns the attempt id a user is currently sitting.
func (r *CacheKeyStruct) UserActiveAttemptKey(userID int, testID string) string {
	return fmt.Sprintf("user:%d:test:%s:active_attempt", userID, testID)
}

// TestMonitorChannel returns the Redis PubSub channel name for a test monitor.
func (r *CacheKeyStruct) TestMonitorChannel(testID string) string {
	return fmt.Sprintf("test:%s:monitor", testID)
}

var CacheKey = NewCacheKeyStruct()
